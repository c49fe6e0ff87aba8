package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db *sqlx.DB
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate - apply pending database migrations")
	fmt.Println("  addtemplate -name NAME -kind KIND -title TITLE -body BODY [-channels in-app,email] [-vars a,b] - register a notification template")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addTemplateCmd := flag.NewFlagSet("addtemplate", flag.ExitOnError)
	tmplName := addTemplateCmd.String("name", "", "Unique template name.")
	tmplKind := addTemplateCmd.String("kind", "info", "Notification kind: info|success|warning|error.")
	tmplTitle := addTemplateCmd.String("title", "", "Title template; variables as {{var}}.")
	tmplBody := addTemplateCmd.String("body", "", "Body template; variables as {{var}}.")
	tmplChannels := addTemplateCmd.String("channels", "in-app", "Comma-separated default channels.")
	tmplVars := addTemplateCmd.String("vars", "", "Comma-separated required variable names.")

	switch args[1] {
	case "migrate":
		return cli.migrate()
	case "addtemplate":
		if err := addTemplateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tmplName == "" || *tmplTitle == "" || *tmplBody == "" {
			addTemplateCmd.Usage()
			return errHelp
		}
		return cli.addTemplate(*tmplName, *tmplKind, *tmplTitle, *tmplBody, *tmplChannels, *tmplVars)
	default:
		cli.printUsage()
		return errHelp
	}
}
