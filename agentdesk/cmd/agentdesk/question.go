package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// askQuestions prompts for every AskUserQuestion question in input and
// returns the updated input carrying the answers, keyed by question text.
// A numeric reply picks an option by position; anything else is taken as
// a free-form answer. Multi-select questions accept comma-separated
// numbers.
func askQuestions(in *bufio.Reader, out io.Writer, input map[string]interface{}) (map[string]interface{}, error) {
	questions, _ := input["questions"].([]interface{})
	answers := make(map[string]interface{}, len(questions))
	for _, raw := range questions {
		q, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		text, _ := q["question"].(string)
		if text == "" {
			continue
		}
		labels := optionLabels(q["options"])
		multi, _ := q["multiSelect"].(bool)

		if header, _ := q["header"].(string); header != "" {
			fmt.Fprintf(out, "\n[%s]\n", header)
		}
		fmt.Fprintf(out, "%s\n", text)
		for i, l := range labels {
			fmt.Fprintf(out, "  %d) %s\n", i+1, l)
		}
		fmt.Fprint(out, "? ")

		line, err := in.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return nil, fmt.Errorf("read answer: %w", err)
		}
		answers[text] = resolveAnswer(strings.TrimSpace(line), labels, multi)
	}

	updated := make(map[string]interface{}, len(input)+1)
	for k, v := range input {
		updated[k] = v
	}
	updated["answers"] = answers
	return updated, nil
}

func optionLabels(raw interface{}) []string {
	opts, _ := raw.([]interface{})
	labels := make([]string, 0, len(opts))
	for _, o := range opts {
		m, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		if l, _ := m["label"].(string); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

func resolveAnswer(reply string, labels []string, multi bool) string {
	pick := func(s string) (string, bool) {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 1 || n > len(labels) {
			return "", false
		}
		return labels[n-1], true
	}
	if !multi {
		if l, ok := pick(reply); ok {
			return l
		}
		return reply
	}
	parts := strings.Split(reply, ",")
	picked := make([]string, 0, len(parts))
	for _, p := range parts {
		l, ok := pick(p)
		if !ok {
			return reply
		}
		picked = append(picked, l)
	}
	return strings.Join(picked, ", ")
}
