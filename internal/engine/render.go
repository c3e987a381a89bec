// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"strings"
	"text/template"

	"loom/internal/data"
	"loom/internal/inputcalc"
)

func parseCommand(name, command string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(command)
}

func renderCommand(tmpl *template.Template, values map[string]string) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, values); err != nil {
		return "", err
	}
	return b.String(), nil
}

// commandValues renders each input for the command line. Gathered inputs
// become their values separated by single spaces.
func commandValues(items []inputcalc.InputItem) map[string]string {
	out := make(map[string]string, len(items))
	for _, it := range items {
		values := it.Data.Values(it.Data.Root())
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = v.String()
		}
		out[it.AsChannel] = strings.Join(parts, " ")
	}
	return out
}

func resolveInputs(items []inputcalc.InputItem) []ResolvedInput {
	out := make([]ResolvedInput, len(items))
	for i, it := range items {
		out[i] = ResolvedInput{
			Channel:  it.AsChannel,
			Type:     it.Data.Type(),
			Gathered: it.Mode.IsGather(),
			Values:   it.Data.Values(it.Data.Root()),
		}
	}
	return out
}

func outputStrings(specs []OutputSpec) []string {
	out := make([]string, len(specs))
	for i, o := range specs {
		out[i] = o.String()
	}
	return out
}

func cloneOutputs(o Outputs) Outputs {
	if o == nil {
		return nil
	}
	out := make(Outputs, len(o))
	for k, v := range o {
		out[k] = append([]data.Object(nil), v...)
	}
	return out
}
