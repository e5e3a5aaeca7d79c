// Package yamlwrapper contains a YAML unmarshaler.
package yamlwrapper

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v2"
)

// differences with respect to the standard package:
// - YAML is converted into JSON, therefore json tags and json.Unmarshaler are used
// - unknown fields and duplicate keys are rejected

func convertKeys(i interface{}) (interface{}, error) {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m2 := map[string]interface{}{}
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string keys are not supported (%v)", k)
			}

			var err error
			m2[ks], err = convertKeys(v)
			if err != nil {
				return nil, err
			}
		}
		return m2, nil

	case []interface{}:
		a2 := make([]interface{}, len(x))
		for i, v := range x {
			var err error
			a2[i], err = convertKeys(v)
			if err != nil {
				return nil, err
			}
		}
		return a2, nil
	}

	return i, nil
}

// Unmarshal loads the configuration from YAML.
func Unmarshal(buf []byte, dest interface{}) error {
	// load YAML into a generic map.
	// UnmarshalStrict rejects duplicate mapping keys.
	var temp interface{}
	err := yaml.UnmarshalStrict(buf, &temp)
	if err != nil {
		return err
	}

	// convert interface{} keys into string keys to avoid JSON errors
	temp, err = convertKeys(temp)
	if err != nil {
		return err
	}

	// convert the generic map into JSON
	buf, err = json.Marshal(temp)
	if err != nil {
		return err
	}

	// load JSON into destination
	d := json.NewDecoder(bytes.NewReader(buf))
	d.DisallowUnknownFields()
	return d.Decode(dest)
}
