package message

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LoadTemplate builds a chain from YAML: a list whose items are element
// records (mappings with a type key) or bare strings.
//
//	- "hello "
//	- type: At
//	  target: 10001
//	- type: Face
//	  faceId: 14
func LoadTemplate(data []byte) (*Chain, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	switch v := doc.(type) {
	case nil:
		return &Chain{}, nil
	case string:
		return NewChain(v)
	case []any:
		return NewChain(v...)
	case map[string]any:
		return NewChain(v)
	}
	return nil, fmt.Errorf("%w: template must be a list, got %T", ErrArgument, doc)
}
