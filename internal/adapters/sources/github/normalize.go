package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// rawEvent is the subset of a GitHub activity event the mapping reads.
type rawEvent struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Actor struct {
		Login string `json:"login"`
	} `json:"actor"`
	Repo struct {
		Name string `json:"name"`
	} `json:"repo"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type rawPullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	HTMLURL   string     `json:"html_url"`
	Merged    bool       `json:"merged"`
	CreatedAt *time.Time `json:"created_at"`
}

type pullRequestPayload struct {
	Action      string         `json:"action"`
	Number      int            `json:"number"`
	PullRequest rawPullRequest `json:"pull_request"`
}

type reviewPayload struct {
	Action string `json:"action"`
	Review struct {
		State       string     `json:"state"`
		HTMLURL     string     `json:"html_url"`
		SubmittedAt *time.Time `json:"submitted_at"`
	} `json:"review"`
	PullRequest rawPullRequest `json:"pull_request"`
}

type pushPayload struct {
	Ref     string `json:"ref"`
	Head    string `json:"head"`
	Size    int    `json:"size"`
	Commits []struct {
		SHA     string `json:"sha"`
		Message string `json:"message"`
	} `json:"commits"`
}

type refPayload struct {
	Ref     string `json:"ref"`
	RefType string `json:"ref_type"`
}

type issuesPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
	} `json:"issue"`
}

// ErrMalformed marks an upstream item the mapping cannot read.
var ErrMalformed = errors.New("github: malformed event")

// Normalize maps one GitHub activity event to canonical events. It depends on
// raw alone. The metadata envelope is model.VCSMeta with raw holding the
// upstream event verbatim.
func Normalize(raw json.RawMessage) ([]model.Event, error) {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if ev.Type == "" || ev.CreatedAt.IsZero() || ev.Repo.Name == "" {
		return nil, fmt.Errorf("%w: missing type, repo or created_at", ErrMalformed)
	}

	repo := ev.Repo.Name
	base := model.Event{
		TS:     ev.CreatedAt,
		Source: model.SourceVCS,
		Actor:  ev.Actor.Login,
	}
	meta := model.VCSMeta{Repo: repo, Raw: raw}

	switch ev.Type {
	case "PullRequestEvent":
		var p pullRequestPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: pull request payload: %w", ErrMalformed, err)
		}
		typ, ok := pullRequestType(p.Action, p.PullRequest.Merged)
		if !ok {
			return nil, nil
		}
		number := p.PullRequest.Number
		if number == 0 {
			number = p.Number
		}
		base.Type = typ
		base.RefID = prRef(repo, number)
		base.Title = p.PullRequest.Title
		base.URL = p.PullRequest.HTMLURL
		meta.Action = p.Action
		meta.Number = number
		meta.Merged = p.PullRequest.Merged
		meta.PRCreatedAt = p.PullRequest.CreatedAt

	case "PullRequestReviewEvent":
		var p reviewPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: review payload: %w", ErrMalformed, err)
		}
		base.Type = model.TypeReviewSubmitted
		base.RefID = prRef(repo, p.PullRequest.Number)
		base.Title = p.PullRequest.Title
		base.URL = p.Review.HTMLURL
		if base.URL == "" {
			base.URL = p.PullRequest.HTMLURL
		}
		meta.Action = p.Action
		meta.Number = p.PullRequest.Number
		meta.PRCreatedAt = p.PullRequest.CreatedAt
		meta.ReviewSubmittedAt = p.Review.SubmittedAt
		meta.ReviewState = strings.ToLower(p.Review.State)

	case "PushEvent":
		var p pushPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: push payload: %w", ErrMalformed, err)
		}
		sha := p.Head
		title := strings.TrimPrefix(p.Ref, "refs/heads/")
		if len(p.Commits) > 0 {
			sha = p.Commits[0].SHA
			title, _, _ = strings.Cut(p.Commits[0].Message, "\n")
		}
		if sha == "" {
			sha = ev.ID
		}
		base.Type = model.TypePush
		base.RefID = sha
		base.Title = title
		base.URL = "https://github.com/" + repo + "/commit/" + sha
		meta.Commits = p.Size
		if meta.Commits == 0 {
			meta.Commits = len(p.Commits)
		}

	case "CreateEvent", "DeleteEvent":
		var p refPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: ref payload: %w", ErrMalformed, err)
		}
		base.Type = model.TypeRefCreated
		if ev.Type == "DeleteEvent" {
			base.Type = model.TypeRefDeleted
		}
		base.RefID = repo + ":" + p.RefType + "/" + p.Ref
		base.Title = p.Ref
		meta.Action = p.RefType

	case "IssuesEvent":
		var p issuesPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: issues payload: %w", ErrMalformed, err)
		}
		base.Type = "issue." + p.Action
		base.RefID = prRef(repo, p.Issue.Number)
		base.Title = p.Issue.Title
		base.URL = p.Issue.HTMLURL
		meta.Action = p.Action
		meta.Number = p.Issue.Number

	default:
		if ev.ID == "" {
			return nil, fmt.Errorf("%w: %s without id", ErrMalformed, ev.Type)
		}
		base.Type = "vcs." + ev.Type
		base.RefID = ev.ID
	}

	if base.RefID == "" || strings.HasSuffix(base.RefID, "#0") {
		return nil, fmt.Errorf("%w: %s without reference", ErrMalformed, ev.Type)
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("github: encode meta: %w", err)
	}
	base.Meta = blob
	return []model.Event{model.NewEvent(base)}, nil
}

// pullRequestType maps a pull request action. Other actions (labeled,
// synchronize, ...) are not state transitions and produce no event.
func pullRequestType(action string, merged bool) (string, bool) {
	switch action {
	case "opened":
		return model.TypePROpened, true
	case "reopened":
		return model.TypePRReopened, true
	case "closed", "merged":
		if merged || action == "merged" {
			return model.TypePRMerged, true
		}
		return model.TypePRClosed, true
	}
	return "", false
}

func prRef(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}
