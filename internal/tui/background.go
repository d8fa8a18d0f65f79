package tui

import (
	"time"

	"conductor/internal/ticket"
)

// SyncAll syncs tickets for every registered repo. The first hard failure
// aborts the pass; partial results are still returned.
func SyncAll(deps Deps) ([]ticket.SyncResult, error) {
	repos, err := deps.Repos.List()
	if err != nil {
		return nil, err
	}
	var results []ticket.SyncResult
	for _, r := range repos {
		res, err := deps.Tickets.SyncRepo(deps.Sources, r.ID, r.Slug, r.RemoteURL)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// SyncLoop periodically syncs tickets and reports through the dispatcher's
// background lane. Runs until stop closes.
func SyncLoop(deps Deps, d *Dispatcher, stop <-chan struct{}) {
	interval := deps.Cfg.SyncInterval()
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			results, err := SyncAll(deps)
			if err != nil {
				deps.Log.Printf("ticket sync: %v", err)
			}
			d.PushBackground(syncDoneMsg{results: results, err: err})
		}
	}
}

// PollLoop nudges the dashboard to reload shared state so changes made by
// other processes (the CLI, an agent finishing) show up without a keypress.
func PollLoop(d *Dispatcher, interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			d.PushBackground(refreshMsg{})
		}
	}
}
