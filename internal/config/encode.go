package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// EncodeLinks renders link blocks as HCL. It is the inverse of the link
// part of LoadHCL and backs "linkd export". Object attributes iterate in
// lexical order, so output is stable.
func EncodeLinks(links []LinkConfig) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	for i, l := range links {
		if i > 0 {
			body.AppendNewline()
		}
		b := body.AppendNewBlock("link", []string{l.Name}).Body()
		b.SetAttributeValue("type", cty.StringVal(l.Type))
		if l.Up != nil {
			b.SetAttributeValue("up", cty.BoolVal(*l.Up))
		}
		if l.Master != "" {
			b.SetAttributeValue("master", cty.StringVal(l.Master))
		}
		if l.SlaveType != "" {
			b.SetAttributeValue("slave_type", cty.StringVal(l.SlaveType))
		}
		if m, err := l.MasterOptions(); err == nil && len(m) > 0 {
			b.SetAttributeValue("options", OptionsValue(m))
		}
		if m, err := l.SlaveOptionMap(); err == nil && len(m) > 0 {
			b.SetAttributeValue("slave_options", OptionsValue(m))
		}
	}

	return f.Bytes()
}
