package client

import (
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/runlog/internal/model"
)

// gitInfo is the provenance detected from the working tree.
type gitInfo struct {
	repo            string
	branch          string
	runTag          string
	commitHash      string
	commitAuthor    string
	commitTimestamp *time.Time
}

var (
	gitOnce   sync.Once
	gitCached *gitInfo
)

// detectGitInfo inspects the current working tree once per process.
// Best-effort: no git binary, no repository, or any error yields nil and
// the run simply carries no provenance.
func detectGitInfo() *gitInfo {
	gitOnce.Do(func() {
		if _, err := exec.LookPath("git"); err != nil {
			return
		}
		if out := gitOutput("rev-parse", "--is-inside-work-tree"); out != "true" {
			return
		}

		info := &gitInfo{
			repo:   gitOutput("remote", "get-url", "origin"),
			branch: gitOutput("rev-parse", "--abbrev-ref", "HEAD"),
			// Empty unless HEAD carries a tag; releases do, dev builds don't.
			runTag:       gitOutput("describe", "--tags", "--exact-match"),
			commitHash:   gitOutput("rev-parse", "HEAD"),
			commitAuthor: gitOutput("log", "-1", "--format=%an"),
		}
		if unix := gitOutput("log", "-1", "--format=%ct"); unix != "" {
			if sec, err := strconv.ParseInt(unix, 10, 64); err == nil {
				ts := time.Unix(sec, 0).UTC()
				info.commitTimestamp = &ts
			}
		}
		if info.commitHash != "" {
			gitCached = info
		}
	})
	return gitCached
}

func gitOutput(args ...string) string {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// applyGitInfo stamps detected provenance onto a run, marked as
// machine-detected.
func applyGitInfo(r *model.Run, info *gitInfo) {
	if info == nil {
		return
	}
	setOptional(&r.GitRepo, info.repo)
	setOptional(&r.GitBranch, info.branch)
	setOptional(&r.GitRunTag, info.runTag)
	setOptional(&r.GitCommitHash, info.commitHash)
	setOptional(&r.GitCommitAuthor, info.commitAuthor)
	if info.commitTimestamp != nil {
		ts := *info.commitTimestamp
		r.GitCommitTimestamp = &ts
	}
}
