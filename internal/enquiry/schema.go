package enquiry

import (
	"github.com/tidwall/gjson"
)

var serverOnlyFields = map[string]struct{}{
	"contractor":    {},
	"ip_address":    {},
	"http_referrer": {},
}

// ParseOptions turns the upstream OPTIONS description into the visible form
// fields, preserving upstream order. Server-populated and read-only fields
// are dropped; attribute children are flattened behind AttributesPrefix.
func ParseOptions(raw []byte) []Field {
	post := gjson.GetBytes(raw, "actions.POST")
	var fields []Field
	post.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if _, skip := serverOnlyFields[name]; skip || value.Get("read_only").Bool() {
			return true
		}
		if name == AttributesPrefix {
			value.Get("children").ForEach(func(childKey, child gjson.Result) bool {
				if !child.Get("read_only").Bool() {
					fields = append(fields, parseField(childKey.String(), AttributesPrefix, child))
				}
				return true
			})
			return true
		}
		fields = append(fields, parseField(name, "", value))
		return true
	})
	return fields
}

func parseField(name, prefix string, v gjson.Result) Field {
	f := Field{
		Name:      name,
		Type:      FieldType(v.Get("type").String()),
		Required:  v.Get("required").Bool(),
		Label:     v.Get("label").String(),
		MaxLength: int(v.Get("max_length").Int()),
		HelpText:  v.Get("help_text").String(),
		Prefix:    prefix,
	}
	if f.Label == "" {
		f.Label = name
	}
	v.Get("choices").ForEach(func(_, c gjson.Result) bool {
		f.Choices = append(f.Choices, Choice{Value: c.Get("value").Value(), DisplayName: c.Get("display_name").String()})
		return true
	})
	return f
}
