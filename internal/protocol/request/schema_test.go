package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanSchema_DropsURIFormatOnly(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":  map[string]interface{}{"type": "string", "format": "uri"},
			"date": map[string]interface{}{"type": "string", "format": "date-time"},
			"n":    map[string]interface{}{"type": "integer", "format": "uri"},
		},
	}

	out := cleanSchema(schema)
	props := out["properties"].(map[string]interface{})
	assert.NotContains(t, props["url"], "format")
	assert.Equal(t, "date-time", props["date"].(map[string]interface{})["format"], "other formats survive")
	assert.Equal(t, "uri", props["n"].(map[string]interface{})["format"], "only string-typed schemas are touched")
}

func TestCleanSchema_Nested(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"links": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string", "format": "uri"},
			},
		},
		"additionalProperties": map[string]interface{}{"type": "string", "format": "uri"},
		"anyOf": []interface{}{
			map[string]interface{}{"type": "string", "format": "uri"},
			map[string]interface{}{
				"allOf": []interface{}{
					map[string]interface{}{"type": "string", "format": "uri"},
				},
			},
		},
	}

	out := cleanSchema(schema)

	items := out["properties"].(map[string]interface{})["links"].(map[string]interface{})["items"].(map[string]interface{})
	assert.NotContains(t, items, "format")

	ap := out["additionalProperties"].(map[string]interface{})
	assert.NotContains(t, ap, "format")

	anyOf := out["anyOf"].([]interface{})
	assert.NotContains(t, anyOf[0].(map[string]interface{}), "format")
	allOf := anyOf[1].(map[string]interface{})["allOf"].([]interface{})
	assert.NotContains(t, allOf[0].(map[string]interface{}), "format")
}

func TestCleanSchema_Idempotent(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "format": "uri"},
		},
	}

	once := cleanSchema(schema)
	twice := cleanSchema(once)
	assert.Equal(t, once, twice)
}

func TestCleanSchema_CyclicInput(t *testing.T) {
	schema := map[string]interface{}{"type": "object"}
	schema["properties"] = map[string]interface{}{"self": schema}

	done := make(chan map[string]interface{}, 1)
	go func() { done <- cleanSchema(schema) }()

	select {
	case out := <-done:
		require.NotNil(t, out)
		assert.Equal(t, "object", out["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("cleanSchema did not terminate on cyclic schema")
	}
}

func TestCleanSchema_Nil(t *testing.T) {
	assert.Nil(t, cleanSchema(nil))
}
