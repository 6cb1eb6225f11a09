// Package codec encodes and decodes tool-call payloads as JSON, YAML or msgpack.
//
// Decoding is strict in every format: unknown keys and trailing documents are
// rejected as configuration errors so malformed recipes, constraints and
// rulesets never reach the core.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Format is a wire format
type Format string

const (
	JSON    Format = "json"
	YAML    Format = "yaml"
	MsgPack Format = "msgpack"
)

// Content types
const (
	ContentTypeJSON    = "application/json"
	ContentTypeYAML    = "application/yaml"
	ContentTypeMsgPack = "application/msgpack"
)

// Formats lists the supported formats
func Formats() []Format {
	return []Format{JSON, YAML, MsgPack}
}

// ParseFormat resolves a format name
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	case "msgpack", "mpk":
		return MsgPack, nil
	default:
		return "", quanterr.Configuration("codec", "unknown format %q", s)
	}
}

// FromContentType maps a Content-Type or Accept header to a format, defaulting to JSON
func FromContentType(header string) Format {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	switch mediaType {
	case ContentTypeYAML, "application/x-yaml", "text/yaml":
		return YAML
	case ContentTypeMsgPack, "application/x-msgpack", "application/vnd.msgpack":
		return MsgPack
	default:
		return JSON
	}
}

// FromPath picks the format from a file extension, defaulting to JSON
func FromPath(path string) Format {
	f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return JSON
	}
	return f
}

// ContentType returns the media type written for f
func (f Format) ContentType() string {
	switch f {
	case YAML:
		return ContentTypeYAML
	case MsgPack:
		return ContentTypeMsgPack
	default:
		return ContentTypeJSON
	}
}

// Marshal encodes v in format f
func Marshal(f Format, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(f, &buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes v to w in format f. msgpack map keys are sorted so equal
// values always encode to equal bytes.
func Encode(f Format, w io.Writer, v interface{}) error {
	switch f {
	case JSON:
		if err := json.NewEncoder(w).Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to flush yaml: %w", err)
		}
	case MsgPack:
		enc := msgpack.NewEncoder(w)
		enc.SetSortMapKeys(true)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode msgpack: %w", err)
		}
	default:
		return quanterr.Configuration("codec.encode", "unknown format %q", f)
	}
	return nil
}

// Unmarshal strictly decodes data in format f into v
func Unmarshal(f Format, data []byte, v interface{}) error {
	return Decode(f, bytes.NewReader(data), v)
}

// Decode strictly decodes one document from r into v
func Decode(f Format, r io.Reader, v interface{}) error {
	const op = "codec.decode"

	switch f {
	case JSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return invalid(op, f, err)
		}
		if dec.More() {
			return quanterr.Configuration(op, "trailing data after json document")
		}
	case YAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil {
			return invalid(op, f, err)
		}
		var extra yaml.Node
		if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
			return quanterr.Configuration(op, "trailing data after yaml document")
		}
	case MsgPack:
		dec := msgpack.NewDecoder(r)
		dec.DisallowUnknownFields(true)
		if err := dec.Decode(v); err != nil {
			return invalid(op, f, err)
		}
	default:
		return quanterr.Configuration(op, "unknown format %q", f)
	}
	return nil
}

// LoadFile decodes the file at path, choosing the format by extension
func LoadFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := Unmarshal(FromPath(path), data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func invalid(op string, f Format, err error) error {
	if errors.Is(err, io.EOF) {
		return quanterr.Configuration(op, "empty %s document", f)
	}
	return &quanterr.Error{Kind: quanterr.ErrConfiguration, Op: op, Detail: "invalid " + string(f), Err: err}
}
