//go:build enable_linters

package conf

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func checkBooleans(t *testing.T, keys []string, node *yaml.Node) {
	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			checkBooleans(t, keys, child)
		}

	case yaml.ScalarNode:
		if node.Tag == "!!str" && node.Style == 0 {
			val := strings.ToLower(node.Value)
			if val == "yes" || val == "no" || val == "on" || val == "off" || val == "y" || val == "n" {
				t.Errorf("deprecated bool value '%v: %v'", strings.Join(keys, "."), val)
			}
		}

	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			checkBooleans(t, append(keys, node.Content[i].Value), node.Content[i+1])
		}
	}
}

func TestConf(t *testing.T) {
	buf, err := os.ReadFile("../../../livefmp4.yml")
	require.NoError(t, err)

	var root yaml.Node
	err = yaml.Unmarshal(buf, &root)
	require.NoError(t, err)

	checkBooleans(t, nil, &root)
}
