package chat

import (
	"fmt"
	"strings"
	"time"
)

const basePrompt = "You are an AI assistant for a CRM system. You help users manage contacts, review account activity, and answer questions grounded in their own data."

const promptFooter = "Always provide helpful, accurate information about the user's CRM data and assist with contact management tasks."

// ContactSummary is the slice of a contact the prompt exposes to the model.
type ContactSummary struct {
	Name            string
	Email           string
	Company         string
	Tags            []string
	LastInteraction time.Time
}

// ActivitySummary is one recent activity line.
type ActivitySummary struct {
	Kind       string
	Details    string
	OccurredAt time.Time
}

// CompanyCount pairs a company with how many contacts it has.
type CompanyCount struct {
	Company string
	Count   int
}

// CRMSnapshot aggregates the per-user CRM state that grounds the system
// prompt. A nil snapshot means the prompt carries no CRM block.
type CRMSnapshot struct {
	TotalContacts  int
	CompaniesCount int
	TagsCount      int
	TopCompanies   []CompanyCount
	RecentContacts []ContactSummary
	RecentActivity []ActivitySummary
	Tags           []string
}

// BuildSystemPrompt renders the system prompt: the CRM data block when a
// snapshot is available, the running conversation summary when one exists,
// and any retrieved note snippets.
func BuildSystemPrompt(snapshot *CRMSnapshot, summary string, snippets []string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if snapshot != nil {
		fmt.Fprintf(&b, "\n\nCURRENT CRM DATA SUMMARY:\n- Total Contacts: %d\n- Companies: %d\n- Tags: %d",
			snapshot.TotalContacts, snapshot.CompaniesCount, snapshot.TagsCount)

		if len(snapshot.TopCompanies) > 0 {
			b.WriteString("\n\nTOP COMPANIES (by contact count):")
			for _, c := range snapshot.TopCompanies {
				fmt.Fprintf(&b, "\n- %s: %d contacts", c.Company, c.Count)
			}
		}

		if len(snapshot.RecentContacts) > 0 {
			b.WriteString("\n\nRECENT CONTACTS:")
			for _, c := range snapshot.RecentContacts {
				fmt.Fprintf(&b, "\n- %s (%s) at %s", c.Name, c.Email, c.Company)
				if len(c.Tags) > 0 {
					fmt.Fprintf(&b, " - Tags: %s", strings.Join(c.Tags, ", "))
				}
			}
		}

		if len(snapshot.RecentActivity) > 0 {
			b.WriteString("\n\nRECENT ACTIVITIES:")
			for _, a := range snapshot.RecentActivity {
				fmt.Fprintf(&b, "\n- %s: %s (%s)", a.Kind, a.Details, a.OccurredAt.Format("2006-01-02"))
			}
		}

		if len(snapshot.Tags) > 0 {
			b.WriteString("\n\nAVAILABLE TAGS:")
			for _, t := range snapshot.Tags {
				fmt.Fprintf(&b, "\n- %s", t)
			}
		}
	}

	if strings.TrimSpace(summary) != "" {
		fmt.Fprintf(&b, "\n\nPREVIOUS CONVERSATION SUMMARY:\n%s", summary)
	}

	if len(snippets) > 0 {
		b.WriteString("\n\nRELEVANT NOTES:")
		for _, s := range snippets {
			fmt.Fprintf(&b, "\n- %s", s)
		}
	}

	b.WriteString("\n\n")
	b.WriteString(promptFooter)
	return b.String()
}
