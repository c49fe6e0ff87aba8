package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notif"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

func (cli *commandLine) addTemplate(name, kind, title, body, channels, vars string) error {
	k := notif.Kind(kind)
	if !k.IsValid() {
		return fmt.Errorf("invalid kind %q", kind)
	}

	var defaultChannels []notif.ChannelType
	for _, raw := range strings.Split(channels, ",") {
		typ := notif.ChannelType(strings.TrimSpace(raw))
		if typ == "" {
			continue
		}
		if !typ.IsValid() {
			return fmt.Errorf("invalid channel type %q", typ)
		}
		defaultChannels = append(defaultChannels, typ)
	}

	var requiredVars []string
	for _, raw := range strings.Split(vars, ",") {
		if v := strings.TrimSpace(raw); v != "" {
			requiredVars = append(requiredVars, v)
		}
	}

	now := time.Now().UTC()
	tmpl := notif.Template{
		Name:            core.CleanString(name, true /* lower */),
		TitleTmpl:       title,
		BodyTmpl:        body,
		Kind:            k,
		DefaultChannels: defaultChannels,
		RequiredVars:    requiredVars,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	repo := sqlxrepos.NewTemplateRepository(cli.db)
	if _, err := repo.CreateTemplate(context.Background(), tmpl); err != nil {
		return err
	}
	logger.Printf("template %q created\n", tmpl.Name)
	return nil
}
