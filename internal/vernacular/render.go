package vernacular

import (
	"fmt"
	"strings"
)

// render serializes matches and rules into the <tenant_vernacular> XML
// block the turn runner appends to its system prompt, in the same shape as
// tenant_resolver.py's hand-built XML.
func render(matches []Match, rules []Rule) string {
	var b strings.Builder
	b.WriteString("<tenant_vernacular>\n")
	b.WriteString("    <instruction_context>\n")
	b.WriteString("        The following entities and rules have been mapped to their specific internal constraints for this particular tenant.\n")
	b.WriteString("        You MUST use these exact internal identifiers and rules when constructing queries.\n")
	b.WriteString("    </instruction_context>\n")

	if len(matches) > 0 {
		b.WriteString("    <resolved_entities>\n")
		for _, m := range matches {
			b.WriteString("        <entity>\n")
			fmt.Fprintf(&b, "            <user_term>%s</user_term>\n", escape(m.UserTerm))
			fmt.Fprintf(&b, "            <internal_script_id>%s</internal_script_id>\n", escape(m.ScriptID))
			fmt.Fprintf(&b, "            <entity_type>%s</entity_type>\n", escape(m.EntityType))
			fmt.Fprintf(&b, "            <metadata>%s</metadata>\n", escape(m.Description))
			fmt.Fprintf(&b, "            <confidence_score>%.2f</confidence_score>\n", m.ConfidenceScore)
			b.WriteString("        </entity>\n")
		}
		b.WriteString("    </resolved_entities>\n")
	}

	if len(rules) > 0 {
		b.WriteString("    <learned_rules>\n")
		b.WriteString("        <!-- Explicit business logic / schema rules learned for this tenant. FOLLOW THESE STRICTLY. -->\n")
		for _, rule := range rules {
			fmt.Fprintf(&b, "        <rule category=\"%s\">\n", escape(rule.Category))
			fmt.Fprintf(&b, "            %s\n", escape(rule.Description))
			b.WriteString("        </rule>\n")
		}
		b.WriteString("    </learned_rules>\n")
	}

	b.WriteString("</tenant_vernacular>")
	return b.String()
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
