// Package bridge turns popup-style action messages into session calls.
package bridge

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kobzarvs/multifind/internal/navigate"
	"github.com/kobzarvs/multifind/internal/session"
)

const (
	ActionAddSearch    = "addSearch"
	ActionRemoveSearch = "removeSearch"
	ActionClearAll     = "clearAll"
	ActionGetSearches  = "getSearches"
	ActionToggle       = "toggle"
	ActionToggleAlias  = "toggleMultiFind"
	ActionNavigate     = "navigate"
	ActionGetMatchInfo = "getMatchInfo"
)

var ErrUnknownAction = errors.New("unknown action")

type Request struct {
	Action    string `json:"action"`
	Keyword   string `json:"keyword,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// Search describes one tracked keyword as shown in a popup list.
type Search struct {
	Keyword      string `json:"keyword"`
	Color        string `json:"color"`
	ColorIndex   int    `json:"colorIndex"`
	CurrentIndex int    `json:"currentIndex"`
	TotalMatches int    `json:"totalMatches"`
}

type Response struct {
	Success      bool                    `json:"success"`
	Message      string                  `json:"message,omitempty"`
	Searches     []Search                `json:"searches,omitempty"`
	Active       *bool                   `json:"active,omitempty"`
	CurrentIndex *int                    `json:"currentIndex,omitempty"`
	TotalMatches *int                    `json:"totalMatches,omitempty"`
	MatchInfo    map[string]session.Info `json:"matchInfo,omitempty"`
}

// Mutates reports whether the action changes the keyword set or the
// active flag, i.e. whether hosts should persist afterwards.
func (r Request) Mutates() bool {
	switch r.Action {
	case ActionAddSearch, ActionRemoveSearch, ActionClearAll, ActionToggle, ActionToggleAlias:
		return true
	}
	return false
}

type Bridge struct {
	session *session.Session
	logger  *zap.Logger
}

func New(s *session.Session, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{session: s, logger: logger}
}

// Handle executes one request. Failures are reported in the response, never
// as a Go error, mirroring the message channel it replaces.
func (b *Bridge) Handle(req Request) Response {
	resp, err := b.dispatch(req)
	if err != nil {
		b.logger.Debug("action failed", zap.String("action", req.Action), zap.Error(err))
		return Response{Success: false, Message: err.Error()}
	}
	return resp
}

func (b *Bridge) dispatch(req Request) (Response, error) {
	s := b.session
	switch req.Action {
	case ActionAddSearch:
		if err := s.Add(req.Keyword); err != nil {
			return Response{}, err
		}
		return b.withSearches(), nil

	case ActionRemoveSearch:
		if err := s.RemoveKeyword(req.Keyword); err != nil {
			return Response{}, err
		}
		return b.withSearches(), nil

	case ActionClearAll:
		if err := s.ClearAll(); err != nil {
			return Response{}, err
		}
		return Response{Success: true}, nil

	case ActionGetSearches:
		return b.withSearches(), nil

	case ActionToggle, ActionToggleAlias:
		active, err := s.ToggleActive()
		if err != nil {
			return Response{}, err
		}
		return Response{Success: true, Active: &active}, nil

	case ActionNavigate:
		dir, err := navigate.ParseDirection(req.Direction)
		if err != nil {
			return Response{}, err
		}
		info, err := s.Navigate(req.Keyword, dir)
		if err != nil {
			return Response{}, err
		}
		return Response{
			Success:      true,
			CurrentIndex: &info.CurrentIndex,
			TotalMatches: &info.TotalMatches,
		}, nil

	case ActionGetMatchInfo:
		if req.Keyword != "" {
			info, err := s.MatchInfo(req.Keyword)
			if err != nil {
				return Response{}, err
			}
			return Response{Success: true, CurrentIndex: &info.CurrentIndex, TotalMatches: &info.TotalMatches}, nil
		}
		return Response{Success: true, MatchInfo: s.AllMatchInfo()}, nil
	}
	return Response{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
}

func (b *Bridge) withSearches() Response {
	active := b.session.Active()
	return Response{Success: true, Searches: b.Searches(), Active: &active}
}

// Searches lists tracked keywords with their colors and match state.
func (b *Bridge) Searches() []Search {
	s := b.session
	infos := s.AllMatchInfo()
	var out []Search
	for _, kw := range s.ListKeywords() {
		color, _ := s.Color(kw)
		slot, _ := s.Slot(kw)
		info := infos[kw]
		out = append(out, Search{
			Keyword:      kw,
			Color:        color,
			ColorIndex:   slot,
			CurrentIndex: info.CurrentIndex,
			TotalMatches: info.TotalMatches,
		})
	}
	return out
}
