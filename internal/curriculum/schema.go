package curriculum

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const questionSchema = `{
  "type": "object",
  "required": ["id", "type", "prompt"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {"enum": ["multiple_choice", "matching_pairs", "drag_drop", "fill_in_blank", "counting"]},
    "prompt": {"type": "string"}
  }
}`

var curriculumSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["course_id", "chapters"],
  "properties": {
    "course_id": {"type": "string", "minLength": 1},
    "addressing": {"enum": ["", "positional", "identifier"]},
    "xp_reward": {"type": "integer", "minimum": 0},
    "time_limit_seconds": {"type": "integer", "minimum": 0},
    "chapters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "lessons"],
        "properties": {
          "id": {"type": "string"},
          "lessons": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id"],
              "properties": {
                "id": {"type": "string"},
                "xp_reward": {"type": "integer", "minimum": 0},
                "time_limit_seconds": {"type": "integer", "minimum": 0},
                "questions": {"type": "array", "items": ` + questionSchema + `},
                "activities": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["id", "questions"],
                    "properties": {
                      "id": {"type": "string"},
                      "questions": {"type": "array", "items": ` + questionSchema + `}
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

const storySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["course_id", "nodes"],
  "properties": {
    "course_id": {"type": "string", "minLength": 1},
    "intro": {"type": "array", "items": {"type": "object", "required": ["text"]}},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "title", "activity_ref"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "index": {"type": "integer", "minimum": 0},
          "activity_ref": {"type": "string"},
          "badge": {
            "type": "object",
            "required": ["id", "name"],
            "properties": {"id": {"type": "string", "minLength": 1}}
          }
        }
      }
    }
  }
}`

var (
	curriculumValidator = mustSchema(curriculumSchema)
	storyValidator      = mustSchema(storySchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("curriculum: invalid built-in schema: %v", err))
	}
	return s
}

// validate checks a decoded YAML document against schema.
func validate(schema *gojsonschema.Schema, doc any) error {
	res, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validating document: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(msgs, "; "))
}
