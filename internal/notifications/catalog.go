package notifications

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/albapepper/pantry-notifier/internal/domain"
	"github.com/albapepper/pantry-notifier/internal/push"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Copy is the default text and link for one kind of notification.
type Copy struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
	Icon  string `yaml:"icon"`
	URL   string `yaml:"url"`
}

// Catalog holds payload defaults.
type Catalog struct {
	Expiry    Copy                         `yaml:"expiry"`
	Expired   Copy                         `yaml:"expired"`
	Test      Copy                         `yaml:"test"`
	Reminders map[domain.ReminderType]Copy `yaml:"reminders"`
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// ExpiryPayload describes items expiring in days.
func (c *Catalog) ExpiryPayload(days int, items []domain.Item) push.Payload {
	return push.Payload{
		Title: c.Expiry.Title,
		Body:  fmt.Sprintf("%s %s %s", listNames(items), verb(len(items), "expires", "expire"), inDays(days)),
		Tag:   fmt.Sprintf("expiry-%d", days),
		Icon:  c.Expiry.Icon,
		Data: map[string]any{
			"url":     c.Expiry.URL,
			"type":    string(domain.CategoryExpiry),
			"days":    days,
			"itemIds": domain.ItemIDs(items),
		},
	}
}

// ExpiredPayload aggregates every expired item into one alert.
func (c *Catalog) ExpiredPayload(items []domain.Item) push.Payload {
	return push.Payload{
		Title: c.Expired.Title,
		Body:  fmt.Sprintf("%s %s passed %s expiration date", listNames(items), verb(len(items), "has", "have"), verb(len(items), "its", "their")),
		Tag:   "expired",
		Icon:  c.Expired.Icon,
		Data: map[string]any{
			"url":     c.Expired.URL,
			"type":    string(domain.CategoryExpired),
			"itemIds": domain.ItemIDs(items),
		},
		RequireInteraction: true,
	}
}

// ReminderPayload builds an engagement reminder; user message and icon win
// over the catalog.
func (c *Catalog) ReminderPayload(t domain.ReminderType, cfg domain.ReminderConfig) push.Payload {
	def, ok := c.Reminders[t]
	if !ok {
		def = Copy{Title: "Reminder", URL: "/"}
	}
	p := push.Payload{
		Title: def.Title,
		Body:  def.Body,
		Tag:   "reminder-" + string(t),
		Icon:  def.Icon,
		Data: map[string]any{
			"url":  def.URL,
			"type": string(domain.ReminderCategory(t)),
		},
	}
	if cfg.Message != "" {
		p.Body = cfg.Message
	}
	if cfg.Icon != "" {
		p.Icon = cfg.Icon
	}
	return p
}

// TestPayload is sent by the admin test endpoint.
func (c *Catalog) TestPayload() push.Payload {
	return push.Payload{
		Title: c.Test.Title,
		Body:  c.Test.Body,
		Tag:   "test",
		Icon:  c.Test.Icon,
		Data:  map[string]any{"url": c.Test.URL, "type": string(domain.CategoryTest)},
	}
}

// listNames renders "Milk", "Milk and Eggs" or "Milk, Eggs and 3 more".
func listNames(items []domain.Item) string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	switch len(names) {
	case 0:
		return "Nothing"
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	case 3:
		return strings.Join(names[:2], ", ") + " and " + names[2]
	default:
		return fmt.Sprintf("%s and %d more", strings.Join(names[:2], ", "), len(names)-2)
	}
}

func verb(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

func inDays(d int) string {
	switch d {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", d)
	}
}
