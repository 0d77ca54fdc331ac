package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agentdesk/config"
	"github.com/bazelment/agentdesk/agentdesk/remote"
	"github.com/bazelment/agentdesk/agentdesk/store"
)

// schemaTypes are the documents a UI client or operator deals with.
var schemaTypes = map[string]interface{}{
	"message":  agentstream.Message{},
	"command":  remote.Command{},
	"envelope": remote.Envelope{},
	"session":  store.Session{},
	"config":   config.Config{},
}

var schemaCmd = &cobra.Command{
	Use:   "schema <" + strings.Join(schemaNames(), "|") + ">",
	Short: "Print the JSON Schema of a wire or config type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeSchema(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

func schemaNames() []string {
	names := make([]string, 0, len(schemaTypes))
	for n := range schemaTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func writeSchema(w io.Writer, name string) error {
	v, ok := schemaTypes[name]
	if !ok {
		return fmt.Errorf("unknown schema %q (want one of %s)", name, strings.Join(schemaNames(), ", "))
	}
	reflector := &jsonschema.Reflector{AllowAdditionalProperties: true}
	data, err := json.MarshalIndent(reflector.Reflect(v), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
