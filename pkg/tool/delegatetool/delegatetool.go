// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package delegatetool provides the coworker tools given to agents that are
// allowed to delegate: delegate_work hands a task to a coworker and
// ask_question asks one for information. Coworkers are looked up by role,
// ignoring case and surrounding quotes.
package delegatetool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kadirpekel/pmcrew/pkg/tool"
	"github.com/kadirpekel/pmcrew/pkg/tool/functiontool"
)

const (
	DelegateWorkName = "delegate_work"
	AskQuestionName  = "ask_question"
)

// ErrUnknownCoworker is returned when the requested role is not in the crew.
var ErrUnknownCoworker = errors.New("unknown coworker")

// Coworker is a crew member that can take delegated work.
type Coworker interface {
	Role() string
	Perform(ctx context.Context, task, context string) (string, error)
}

// DelegateArgs are the arguments of delegate_work.
type DelegateArgs struct {
	Task     string `json:"task" jsonschema:"required,description=The task to delegate"`
	Context  string `json:"context" jsonschema:"description=Everything the coworker needs to know to execute the task"`
	Coworker string `json:"coworker" jsonschema:"required,description=The role of the coworker to delegate to"`
}

// QuestionArgs are the arguments of ask_question.
type QuestionArgs struct {
	Question string `json:"question" jsonschema:"required,description=The question to ask"`
	Context  string `json:"context" jsonschema:"description=Everything the coworker needs to know to answer"`
	Coworker string `json:"coworker" jsonschema:"required,description=The role of the coworker to ask"`
}

// New returns delegate_work and ask_question bound to coworkers.
// It returns no tools when there is nobody to delegate to.
func New(coworkers []Coworker) ([]tool.CallableTool, error) {
	if len(coworkers) == 0 {
		return nil, nil
	}

	d := &delegator{coworkers: coworkers}
	roles := strings.Join(d.roles(), ", ")

	delegate, err := functiontool.NewWithValidation(
		functiontool.Config{
			Name: DelegateWorkName,
			Description: fmt.Sprintf("Delegate a specific task to one of the following coworkers: %s. "+
				"The input must name the coworker, the task and all the context the coworker needs, "+
				"since they know nothing about the task beyond what you send.", roles),
		},
		func(ctx context.Context, args DelegateArgs) (map[string]any, error) {
			return d.perform(ctx, args.Coworker, args.Task, args.Context)
		},
		func(args DelegateArgs) error {
			if strings.TrimSpace(args.Task) == "" {
				return errors.New("task is required")
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	ask, err := functiontool.NewWithValidation(
		functiontool.Config{
			Name: AskQuestionName,
			Description: fmt.Sprintf("Ask a specific question to one of the following coworkers: %s. "+
				"The input must name the coworker, the question and all the context they need, "+
				"since they know nothing about the question beyond what you send.", roles),
		},
		func(ctx context.Context, args QuestionArgs) (map[string]any, error) {
			return d.perform(ctx, args.Coworker, args.Question, args.Context)
		},
		func(args QuestionArgs) error {
			if strings.TrimSpace(args.Question) == "" {
				return errors.New("question is required")
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	return []tool.CallableTool{delegate, ask}, nil
}

type delegator struct {
	coworkers []Coworker
}

func (d *delegator) roles() []string {
	roles := make([]string, len(d.coworkers))
	for i, c := range d.coworkers {
		roles[i] = c.Role()
	}
	return roles
}

// find returns the coworker with the given role.
func (d *delegator) find(role string) (Coworker, error) {
	want := normalizeRole(role)
	for _, c := range d.coworkers {
		if normalizeRole(c.Role()) == want {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w %q, choose one of: %s", ErrUnknownCoworker, role, strings.Join(d.roles(), ", "))
}

func (d *delegator) perform(ctx context.Context, role, task, taskContext string) (map[string]any, error) {
	coworker, err := d.find(role)
	if err != nil {
		return nil, err
	}

	answer, err := coworker.Perform(ctx, task, taskContext)
	if err != nil {
		return nil, fmt.Errorf("coworker %q failed: %w", coworker.Role(), err)
	}

	return map[string]any{
		"coworker": coworker.Role(),
		"result":   answer,
	}, nil
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(role), `"'`))
}
