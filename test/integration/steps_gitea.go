package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// Project steps

func (s *StepsContext) createsTheProject(alias, name string) error {
	auth, err := s.bearer(alias)
	if err != nil {
		return err
	}
	if err := s.request(http.MethodPost, "/code/api/projects/", auth, map[string]any{"name": name}); err != nil {
		return err
	}
	if s.response.StatusCode != http.StatusCreated {
		return nil
	}
	var body struct {
		ID        string `json:"id"`
		Workspace string `json:"workspace"`
	}
	if err := json.Unmarshal(s.responseBody, &body); err != nil {
		return fmt.Errorf("failed to parse project: %w", err)
	}
	s.projectID, s.workspace = body.ID, body.Workspace
	return nil
}

func (s *StepsContext) hasTheProject(alias, name string) error {
	if err := s.createsTheProject(alias, name); err != nil {
		return err
	}
	return s.theResponseStatusShouldBe(http.StatusCreated)
}

func (s *StepsContext) hasTheProjectWithTheScript(alias, name, script string) error {
	if err := s.hasTheProject(alias, name); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.workspace, script), []byte("print('hi')\n"), 0o644)
}

func (s *StepsContext) deletesTheProject(alias string) error {
	auth, err := s.bearer(alias)
	if err != nil {
		return err
	}
	return s.request(http.MethodDelete, "/code/api/projects/"+s.projectID+"/", auth, nil)
}

func (s *StepsContext) theProjectWorkspaceShouldExist() error {
	info, err := os.Stat(s.workspace)
	if err != nil {
		return fmt.Errorf("workspace %q: %w", s.workspace, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace %q is not a directory", s.workspace)
	}
	return nil
}

func (s *StepsContext) theProjectWorkspaceShouldBe(rel string) error {
	want := filepath.Join(s.tc.WorkspaceRoot, filepath.FromSlash(s.expand(rel)))
	if s.workspace != want {
		return fmt.Errorf("expected workspace %q, got %q", want, s.workspace)
	}
	return nil
}

// Gitea steps

func (s *StepsContext) giteaAnswersRequestsWith(method string, code int) error {
	s.tc.Gitea.Respond(method, code)
	return nil
}

func (s *StepsContext) giteaShouldReceive(call string) error {
	want := s.expand(call)
	return eventually(func() error {
		for _, c := range s.tc.Gitea.Calls() {
			if c == want {
				return nil
			}
		}
		return fmt.Errorf("gitea never received %q", want)
	})
}

func (s *StepsContext) shouldBeMarkedAsSyncedToGitea(alias string) error {
	u, err := s.user(alias)
	if err != nil {
		return err
	}
	return eventually(func() error {
		stored, err := s.tc.Users.GetUser(s.ctx, u.user.ID)
		if err != nil {
			return err
		}
		if stored.GiteaSyncedAt == nil {
			return fmt.Errorf("%s has not been synced to gitea", u.user.Username)
		}
		return nil
	})
}

// theGiteaLogShouldReport waits for the sync handler to log msg for repo,
// which it only does once the Gitea call has been accepted.
func (s *StepsContext) theGiteaLogShouldReport(msg, repo string) error {
	want := s.expand(repo)
	return eventually(func() error {
		for _, e := range s.tc.Logs.AllEntries() {
			if e.Message == msg && fmt.Sprint(e.Data["repo"]) == want {
				return nil
			}
		}
		return fmt.Errorf("no %q log entry for %s", msg, want)
	})
}
