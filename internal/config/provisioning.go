package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ListColumn describes one column of the member resources list.
type ListColumn struct {
	Name      string   `mapstructure:"name"`
	Type      string   `mapstructure:"type"`
	Choices   []string `mapstructure:"choices"`
	Multiline bool     `mapstructure:"multiline"`
}

const (
	ListColumnText   = "text"
	ListColumnChoice = "choice"
)

// Templates holds the display strings used when creating workspace resources.
// Placeholders {displayName}, {email} and {organization} are substituted at use.
type Templates struct {
	InviteMessage      string       `mapstructure:"inviteMessage"`
	TeamName           string       `mapstructure:"teamName"`
	TeamDescription    string       `mapstructure:"teamDescription"`
	ChannelName        string       `mapstructure:"channelName"`
	ChannelDescription string       `mapstructure:"channelDescription"`
	ListName           string       `mapstructure:"listName"`
	ListColumns        []ListColumn `mapstructure:"listColumns"`
}

func DefaultTemplates() Templates {
	return Templates{
		InviteMessage:      "Welcome {displayName}! You've been invited to access our platform.",
		TeamName:           "{organization} - {displayName}",
		TeamDescription:    "Team workspace for {displayName}",
		ChannelName:        "Private Workspace",
		ChannelDescription: "Private channel for confidential discussions",
		ListName:           "Member Resources",
		ListColumns: []ListColumn{
			{Name: "ResourceName", Type: ListColumnText},
			{Name: "ResourceType", Type: ListColumnChoice, Choices: []string{"Document", "Link", "Video", "Other"}},
			{Name: "Description", Type: ListColumnText, Multiline: true},
		},
	}
}

// Render substitutes the user placeholders in tmpl.
func Render(tmpl, displayName, email, organization string) string {
	return strings.NewReplacer(
		"{displayName}", displayName,
		"{email}", email,
		"{organization}", organization,
	).Replace(tmpl)
}

type TemplateHolder struct {
	current atomic.Value // holds Templates
}

// NewStaticTemplateHolder returns a holder that never reloads.
func NewStaticTemplateHolder(t Templates) *TemplateHolder {
	holder := &TemplateHolder{}
	holder.current.Store(t)
	return holder
}

// NewTemplateHolder reads provisioning.yml when present and watches it for changes.
func NewTemplateHolder(cfg Config, log *zap.Logger) (*TemplateHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.Provisioning.TemplatePath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("provisioning")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/provisioning")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PROVISIONING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &TemplateHolder{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		holder.current.Store(DefaultTemplates())
		return holder, nil
	}

	tmpl, err := decodeTemplates(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(tmpl)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeTemplates(v)
		if err != nil {
			log.Warn("provisioning templates reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("provisioning templates reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *TemplateHolder) Get() Templates {
	return h.current.Load().(Templates)
}

func decodeTemplates(v *viper.Viper) (Templates, error) {
	tmpl := DefaultTemplates()
	if v.IsSet("provisioning.listColumns") {
		tmpl.ListColumns = nil
	}
	if err := v.UnmarshalKey("provisioning", &tmpl); err != nil {
		return Templates{}, err
	}
	if err := validateTemplates(tmpl); err != nil {
		return Templates{}, err
	}
	return tmpl, nil
}

func validateTemplates(t Templates) error {
	if strings.TrimSpace(t.TeamName) == "" {
		return errors.New("provisioning.teamName cannot be empty")
	}
	if strings.TrimSpace(t.ChannelName) == "" {
		return errors.New("provisioning.channelName cannot be empty")
	}
	if strings.TrimSpace(t.ListName) == "" {
		return errors.New("provisioning.listName cannot be empty")
	}
	for _, col := range t.ListColumns {
		if strings.TrimSpace(col.Name) == "" {
			return errors.New("provisioning.listColumns: name is required")
		}
		switch col.Type {
		case ListColumnText:
		case ListColumnChoice:
			if len(col.Choices) == 0 {
				return errors.New("provisioning.listColumns: choice column needs choices")
			}
		default:
			return errors.New("provisioning.listColumns: unsupported type " + col.Type)
		}
	}
	return nil
}
