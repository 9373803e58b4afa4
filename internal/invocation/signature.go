package invocation

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/vaultmesh/datahub/internal/apperr"
)

// requiredCoveredFields are always present regardless of whether the
// request carries a body.
var requiredCoveredFields = []string{
	"(key-id)", "(created)", "(expires)", "(request-target)", "host",
	"authorization-capability", "authorization-capability-action",
}

// bodyCoveredFields are additionally required when the request has a body.
var bodyCoveredFields = []string{"content-type", "digest"}

// SignatureHeader is a parsed cavage-style HTTP Signature header.
type SignatureHeader struct {
	KeyID     string
	Algorithm string
	Created   int64
	Expires   int64
	Headers   []string
	Signature []byte
}

// ParseSignatureHeader parses the Signature header value into its
// constituent fields, without validating the signature itself.
func ParseSignatureHeader(raw string) (SignatureHeader, error) {
	params, err := parseParams(raw)
	if err != nil {
		return SignatureHeader{}, err
	}

	var sig SignatureHeader
	sig.KeyID = params["keyid"]
	sig.Algorithm = params["algorithm"]

	if v, ok := params["created"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return SignatureHeader{}, apperr.NotAllowed("invalid created parameter")
		}
		sig.Created = n
	}
	if v, ok := params["expires"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return SignatureHeader{}, apperr.NotAllowed("invalid expires parameter")
		}
		sig.Expires = n
	}

	headersParam, ok := params["headers"]
	if !ok {
		return SignatureHeader{}, apperr.NotAllowed("signature missing headers parameter")
	}
	sig.Headers = strings.Fields(headersParam)

	sigParam, ok := params["signature"]
	if !ok {
		return SignatureHeader{}, apperr.NotAllowed("signature missing signature parameter")
	}
	decoded, err := base64.StdEncoding.DecodeString(sigParam)
	if err != nil {
		return SignatureHeader{}, apperr.NotAllowed("signature is not valid base64")
	}
	sig.Signature = decoded

	if sig.KeyID == "" {
		return SignatureHeader{}, apperr.NotAllowed("signature missing keyId parameter")
	}

	return sig, nil
}

// parseParams parses the comma-separated key="value" pairs of a Signature
// header into a lowercase-keyed map.
func parseParams(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range splitParams(raw) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return nil, apperr.NotAllowed("malformed signature parameter %q", part)
		}
		key := strings.ToLower(strings.TrimSpace(part[:eq]))
		val := strings.TrimSpace(part[eq+1:])
		val = strings.Trim(val, `"`)
		out[key] = val
	}
	return out, nil
}

// splitParams splits on commas that are not inside a quoted value.
func splitParams(raw string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range raw {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ',':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	out = append(out, cur.String())
	return out
}

// RequireCoveredFields checks that sig.Headers includes every field
// required by the protocol, given whether the request carries a body
// (§4.5 step 1).
func RequireCoveredFields(sig SignatureHeader, hasBody bool) error {
	want := requiredCoveredFields
	if hasBody {
		want = append(append([]string{}, requiredCoveredFields...), bodyCoveredFields...)
	}
	have := map[string]struct{}{}
	for _, h := range sig.Headers {
		have[strings.ToLower(h)] = struct{}{}
	}
	for _, field := range want {
		if _, ok := have[field]; !ok {
			return apperr.NotAllowed("signature does not cover required field %q", field)
		}
	}
	return nil
}

// CanonicalSigningString builds the canonical string the signature was
// computed over, in the exact order sig.Headers names. "(request-target)"
// and "(key-id)"/"(created)"/"(expires)" are synthesized pseudo-headers;
// everything else is read verbatim from r.
func CanonicalSigningString(r *http.Request, sig SignatureHeader) (string, error) {
	lines := make([]string, 0, len(sig.Headers))
	for _, field := range sig.Headers {
		field = strings.ToLower(field)
		var value string
		switch field {
		case "(key-id)":
			value = sig.KeyID
		case "(created)":
			value = strconv.FormatInt(sig.Created, 10)
		case "(expires)":
			value = strconv.FormatInt(sig.Expires, 10)
		case "(request-target)":
			value = strings.ToLower(r.Method) + " " + r.URL.RequestURI()
		default:
			v := r.Header.Get(field)
			if v == "" && field == "host" {
				v = r.Host
			}
			if v == "" {
				return "", apperr.NotAllowed("request missing header %q covered by signature", field)
			}
			value = v
		}
		lines = append(lines, fmt.Sprintf("%s: %s", field, value))
	}
	return strings.Join(lines, "\n"), nil
}
