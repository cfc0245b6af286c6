package httpconn

import "bytes"

var (
	supportedMethods = map[string]bool{"GET": true, "HEAD": true}
	supportedVersion = map[string]bool{"HTTP/1.0": true, "HTTP/1.1": true}
)

// Parse parses the request line and the Host/User-Agent headers out of the
// raw buffer, per spec.md §4.3. It is idempotent once it has succeeded:
// a second call returns the same ParsedRequest without re-scanning.
//
// Token-based, not prefix-based: header names are matched by splitting on
// the first colon rather than by a fixed-length prefix compare, so a
// header like "Host-X: v" is not mistaken for "Host".
func (r *Request) Parse() error {
	if r.parsed != nil {
		if r.unsupportedMethod {
			return ParseErrUnsupportedMethod
		}
		return nil
	}

	raw := r.raw.Bytes()
	headerEnd := bytes.Index(raw, headerTerminator)
	if headerEnd < 0 {
		return ParseErrMalformed
	}
	lines := bytes.Split(raw[:headerEnd], []byte("\r\n"))
	if len(lines) == 0 || len(lines[0]) == 0 {
		return ParseErrMalformed
	}

	reqLine := bytes.Split(lines[0], []byte(" "))
	if len(reqLine) != 3 {
		return ParseErrMalformed
	}
	method := string(reqLine[0])
	path := string(reqLine[1])
	version := string(reqLine[2])

	unsupportedMethod := !supportedMethods[method]
	if !supportedVersion[version] {
		return ParseErrUnsupportedVersion
	}

	parsed := &ParsedRequest{Method: method, Path: path, Version: version}

	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))

		switch name {
		case "Host":
			parsed.Host = value
		case "User-Agent":
			parsed.UserAgent = value
		}
	}

	r.parsed = parsed
	r.unsupportedMethod = unsupportedMethod
	if unsupportedMethod {
		return ParseErrUnsupportedMethod
	}
	return nil
}
