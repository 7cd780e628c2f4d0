// File path: internal/interview/interview.go

// Package interview drives the synchronous turn-by-turn interview on a
// terminal: category selection, the conversational gathering loop, the
// sequential text and boolean sub-flows, and the optional-fields pass. All
// state lives in the engine; this package only owns the prompts.
package interview

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"formloop/internal/common"
	"formloop/internal/engine"
	"formloop/internal/track"
)

var stopWords = []string{"no", "n", "nope", "done", "that's all", "nothing", "nah", "finish"}

var continueWords = []string{"yes", "y", "yeah", "sure", "yep", "ok", "okay", "more"}

// Interviewer runs one interview session against the engine over the given
// reader and writer.
type Interviewer struct {
	engine *engine.Engine
	in     *bufio.Scanner
	out    io.Writer
}

func New(eng *engine.Engine, in io.Reader, out io.Writer) *Interviewer {
	return &Interviewer{
		engine: eng,
		in:     bufio.NewScanner(in),
		out:    out,
	}
}

func (iv *Interviewer) printf(format string, args ...interface{}) {
	fmt.Fprintf(iv.out, format, args...)
}

// readLine returns the next trimmed input line; io.EOF once the input is
// exhausted, which every loop treats as "stop here".
func (iv *Interviewer) readLine() (string, error) {
	if !iv.in.Scan() {
		if err := iv.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(iv.in.Text()), nil
}

func contains(words []string, s string) bool {
	for _, w := range words {
		if w == s {
			return true
		}
	}
	return false
}

// Run executes the full interview: category selection through finalization.
func (iv *Interviewer) Run(ctx context.Context) error {
	logger := common.Logger()
	iv.printf("Welcome to the form assistant\n\n")

	sessionID, err := iv.selectCategory(ctx)
	if err != nil {
		return err
	}

	if err := iv.converse(ctx, sessionID); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	if err := iv.engine.SetPhase(ctx, sessionID, engine.PhaseTextFill); err != nil {
		return err
	}
	text, groups, err := iv.engine.MissingPaths(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(text) > 0 {
		if err := iv.askTextFields(ctx, sessionID, text); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}

	if len(groups) > 0 {
		if err := iv.engine.SetPhase(ctx, sessionID, engine.PhaseBooleanFill); err != nil {
			return err
		}
		if err := iv.askBooleanGroups(ctx, sessionID, groups); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}

	iv.printf("\nAll mandatory fields filled!\n")

	if err := iv.offerOptionalFields(ctx, sessionID); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	done, err := iv.engine.Complete(ctx, sessionID)
	if err != nil {
		return err
	}
	logger.Info("interview: session finalized", "session", sessionID)
	iv.printf("\nSession %s complete.\n", sessionID)
	iv.printf("Mandatory fields: %d/%d (%.2f%%)\n",
		done.Progress.Mandatory.Filled, done.Progress.Mandatory.Total, done.Progress.Mandatory.Percentage)
	iv.printf("Artifacts saved under sessions/%s/\n", sessionID)
	return nil
}

// selectCategory presents the numbered category list and accepts a choice by
// number or by name.
func (iv *Interviewer) selectCategory(ctx context.Context) (string, error) {
	categories := iv.engine.Categories()
	iv.printf("Available investor types:\n")
	for i, name := range categories {
		iv.printf("%d. %s\n", i+1, name)
	}
	iv.printf("\nEnter investor type (number or name): ")
	choice, err := iv.readLine()
	if err != nil {
		return "", err
	}
	if n, convErr := strconv.Atoi(choice); convErr == nil && n >= 1 && n <= len(categories) {
		choice = categories[n-1]
	}

	res, err := iv.engine.Init(ctx, choice)
	if err != nil {
		return "", err
	}
	iv.printf("\nInvestor type selected: %s\n", choice)
	iv.printf("Mapped %d mandatory fields\n\n", res.Progress.Mandatory.Total)
	return res.SessionID, nil
}

// converse runs the conversational gathering loop until the user signals
// they are done. An unrecognized continue/stop answer keeps the loop going.
func (iv *Interviewer) converse(ctx context.Context, sessionID string) error {
	iv.printf("Tell me about yourself! Share any information in your own words.\n\n")
	for {
		iv.printf("You: ")
		input, err := iv.readLine()
		if err != nil {
			return err
		}
		if input == "" {
			continue
		}

		chat, err := iv.engine.Chat(ctx, sessionID, input)
		if err != nil {
			return err
		}
		if len(chat.Extracted) > 0 {
			iv.printf("\nCaptured %d field(s).\n", len(chat.Extracted))
		}
		iv.printf("\n%s\n", chat.Followup)

		iv.printf("-> ")
		signal, err := iv.readLine()
		if err != nil {
			return err
		}
		signal = strings.ToLower(signal)
		switch {
		case contains(stopWords, signal):
			iv.printf("\nGreat! Let me gather a few more details.\n\n")
			return nil
		case contains(continueWords, signal):
			iv.printf("\nGo ahead:\n\n")
		default:
			iv.printf("\n")
		}
	}
}

// askTextFields walks the missing text fields in required order: already
// filled fields are skipped, the first mailing field triggers the
// same-as-registered branch, phone fields retry in place on a bad format.
func (iv *Interviewer) askTextFields(ctx context.Context, sessionID string, fields []string) error {
	iv.printf("Let me ask you a few specific questions:\n\n")
	mailingChecked := false
	mailingSame := false
	for _, path := range fields {
		value, err := iv.engine.FieldValue(ctx, sessionID, path)
		if errors.Is(err, engine.ErrInvalidField) {
			if warnErr := iv.engine.RecordWarning(ctx, sessionID, "field_not_in_form_keys", path); warnErr != nil {
				return warnErr
			}
			continue
		}
		if err != nil {
			return err
		}
		if !track.Empty(value) {
			iv.printf("Already have: %s = %v\n", track.FieldLabel(path), value)
			continue
		}

		if strings.Contains(strings.ToLower(path), "mailing") {
			if !mailingChecked {
				mailingChecked = true
				iv.printf("\nIs mailing address same as registered address? (y/n): ")
				answer, err := iv.readLine()
				if err != nil {
					return err
				}
				if strings.ToLower(answer) == "y" {
					mailingSame = true
					copied, err := iv.engine.FillMailingFromRegistered(ctx, sessionID)
					if err != nil {
						return err
					}
					for _, c := range copied {
						iv.printf("Copied: %s\n", track.FieldLabel(c))
					}
					continue
				}
			}
			if mailingSame {
				continue
			}
		}

		if err := iv.askOneField(ctx, sessionID, path); err != nil {
			return err
		}
	}
	return nil
}

func (iv *Interviewer) askOneField(ctx context.Context, sessionID, path string) error {
	for {
		iv.printf("-> %s: ", track.FieldLabel(path))
		value, err := iv.readLine()
		if err != nil {
			return err
		}
		if value == "" {
			return nil
		}
		_, err = iv.engine.FillSequential(ctx, sessionID, path, value)
		if errors.Is(err, engine.ErrInvalidPhone) {
			iv.printf("Please include a country code, e.g. +1 555 000 1234. Try again.\n")
			continue
		}
		return err
	}
}

// askBooleanGroups presents each group as a numbered multi-select over all
// of its members. Malformed or out-of-range selections re-prompt in place;
// an empty selection is allowed.
func (iv *Interviewer) askBooleanGroups(ctx context.Context, sessionID string, groups []track.BooleanGroup) error {
	iv.printf("\nNow let's select some categories:\n")
	for _, group := range groups {
		options, err := iv.engine.GroupOptions(ctx, sessionID, group.Name)
		if err != nil {
			return err
		}
		iv.printf("\n--- %s ---\n", group.Name)
		for _, opt := range options {
			iv.printf("%d. %s\n", opt.Index, opt.DisplayName)
		}
		for {
			iv.printf("Select one or multiple (comma-separated, e.g., 1,3): ")
			line, err := iv.readLine()
			if err != nil {
				return err
			}
			indices, parseErr := parseIndices(line)
			if parseErr != nil {
				iv.printf("Please enter numbers separated by commas.\n")
				continue
			}
			_, err = iv.engine.FillBoolean(ctx, sessionID, group.Name, indices)
			if errors.Is(err, engine.ErrInvalidIndex) {
				iv.printf("Invalid input. Try again.\n")
				continue
			}
			if err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func parseIndices(line string) ([]int, error) {
	if line == "" {
		return []int{}, nil
	}
	var indices []int
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		indices = append(indices, n)
	}
	return indices, nil
}

// offerOptionalFields runs the optional-fields pass after the mandatory set
// is complete.
func (iv *Interviewer) offerOptionalFields(ctx context.Context, sessionID string) error {
	optional, err := iv.engine.RemainingOptional(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(optional) == 0 {
		return nil
	}
	iv.printf("\nThere are %d optional fields. Fill them? (yes/no): ", len(optional))
	answer, err := iv.readLine()
	if err != nil {
		return err
	}
	answer = strings.ToLower(answer)
	if answer != "yes" && answer != "y" {
		return nil
	}
	return iv.askTextFields(ctx, sessionID, optional)
}
