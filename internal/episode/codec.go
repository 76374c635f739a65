package episode

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// rawSchemaJSON constrains the shape of a demo document. Channel lengths are
// deliberately not cross-checked here; the decoder owns those invariants and
// reports them with the source path attached.
const rawSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["furniture", "success", "image_height", "image_width", "observations", "actions", "rewards", "skills"],
  "properties": {
    "furniture": {"type": "string", "minLength": 1},
    "success": {"type": "boolean"},
    "image_height": {"type": "integer", "minimum": 1},
    "image_width": {"type": "integer", "minimum": 1},
    "observations": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["color_image1", "color_image2", "robot_state"],
        "properties": {
          "color_image1": {"type": "string"},
          "color_image2": {"type": "string"},
          "robot_state": {
            "type": "object",
            "required": ["ee_pos", "ee_quat", "ee_pos_vel", "ee_ori_vel", "gripper_width"],
            "properties": {
              "ee_pos": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3},
              "ee_quat": {"type": "array", "items": {"type": "number"}, "minItems": 4, "maxItems": 4},
              "ee_pos_vel": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3},
              "ee_ori_vel": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3},
              "gripper_width": {"type": "number"}
            }
          }
        }
      }
    },
    "actions": {"type": "array", "items": {"type": "array", "items": {"type": "number"}}},
    "rewards": {"type": "array", "items": {"type": "number"}},
    "skills": {"type": "array", "items": {"type": "number"}}
  }
}`

var rawSchema = mustCompileSchema(rawSchemaJSON, "demo.schema.json")

func mustCompileSchema(raw, name string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		panic(fmt.Sprintf("parsing embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("adding %s resource: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compiling %s: %v", name, err))
	}
	return sch
}

// ReadFile reads, decompresses, schema-validates, and unmarshals one demo
// document.
func ReadFile(path string) (*Raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := rawSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%s: schema: %w", path, err)
	}

	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &raw, nil
}

// WriteFile serializes a demo document to path as zstd-compressed JSON.
func WriteFile(path string, raw *Raw) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding demo: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("compressing demo: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
