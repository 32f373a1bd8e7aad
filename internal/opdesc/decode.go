package opdesc

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Encoding is the serialization of a descriptor document.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingYAML Encoding = "yaml"
)

// EncodingFor picks the encoding from a file extension.
func EncodingFor(path string) (Encoding, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return EncodingJSON, nil
	case ".yaml", ".yml":
		return EncodingYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownEncoding, path)
}

// Decode reads a single descriptor or a list of descriptors.
func Decode(data []byte, enc Encoding) ([]Descriptor, error) {
	switch enc {
	case EncodingJSON:
		return decodeJSON(data)
	case EncodingYAML:
		return decodeYAML(data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
}

func decodeJSON(data []byte) ([]Descriptor, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, bad("empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if trimmed[0] == '[' {
		var list []Descriptor
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
		}
		return list, nil
	}
	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	return []Descriptor{d}, nil
}

func decodeYAML(data []byte) ([]Descriptor, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	if len(root.Content) == 0 {
		return nil, bad("empty document")
	}
	node := root.Content[0]
	if node.Kind == yaml.SequenceNode {
		var list []Descriptor
		if err := node.Decode(&list); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
		}
		return list, nil
	}
	var d Descriptor
	if err := node.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	return []Descriptor{d}, nil
}

// DecodeFile reads descriptors from path, choosing the encoding by extension.
func DecodeFile(path string) ([]Descriptor, error) {
	enc, err := EncodingFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, enc)
}
