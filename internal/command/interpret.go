// Package command interprets operator messages and applies the ones that
// change the target set.
package command

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// addTargetPattern is anchored at both ends: anything that does not match
// exactly is Unknown.
//
//	Add new [<Word> ]bot: <url>, <account>, <channel>
var addTargetPattern = regexp.MustCompile(`^Add new (?:\w+ )?bot:\s*([^,\s]+)\s*,\s*([A-Za-z0-9_-]+)\s*,\s*([^,\s]+)\s*$`)

// Interpret parses an operator message. It never returns an error: text
// outside the grammar yields an Unknown command.
func Interpret(text string) types.Command {
	m := addTargetPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return types.Command{Kind: types.CommandUnknown}
	}
	project, workflow, ok := parseRepoURL(m[1])
	if !ok {
		return types.Command{Kind: types.CommandUnknown}
	}
	return types.Command{
		Kind: types.CommandAddTarget,
		AddTarget: &types.AddTargetArgs{
			RepoURL:    m[1],
			AccountID:  m[2],
			ProjectID:  project,
			WorkflowID: workflow,
			Channel:    m[3],
			Label:      project[strings.LastIndex(project, "/")+1:],
		},
	}
}

// parseRepoURL accepts http(s)://host/owner/repo,
// http(s)://host/owner/repo/actions/workflows/<file>, and the short form
// http(s)://owner/repo where the host names the owner.
func parseRepoURL(raw string) (project, workflow string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", "", false
	}
	if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", "", false
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for _, s := range segs {
		if s == "" {
			return "", "", false
		}
	}
	switch {
	case len(segs) == 1:
		segs = []string{u.Hostname(), segs[0]}
		workflow = types.AllWorkflows
	case len(segs) == 2:
		workflow = types.AllWorkflows
	case len(segs) == 5 && segs[2] == "actions" && segs[3] == "workflows":
		workflow = segs[4]
	default:
		return "", "", false
	}
	repo := strings.TrimSuffix(segs[1], ".git")
	if repo == "" {
		return "", "", false
	}
	return segs[0] + "/" + repo, workflow, true
}

// ParseRepoURL splits a repository or workflow URL into its project and
// workflow ids using the add-target grammar.
func ParseRepoURL(raw string) (project, workflow string, err error) {
	project, workflow, ok := parseRepoURL(strings.TrimSpace(raw))
	if !ok {
		return "", "", &types.ParseError{Input: raw, Reason: "not a repository or workflow URL"}
	}
	return project, workflow, nil
}
