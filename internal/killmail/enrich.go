package killmail

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go-wanderer/pkg/evegateway"
)

// DefaultEnrichmentDeadline bounds total enrichment work per killmail.
const DefaultEnrichmentDeadline = 30 * time.Second

// Enricher resolves a killmail reference into display names via the game
// catalog. Lookups run concurrently under a worker cap; any lookup but the
// killmail body itself may fail without dropping the killmail.
type Enricher struct {
	esi      *evegateway.Client
	deadline time.Duration
	workers  int
}

// NewEnricher creates an enricher. workers <= 0 defaults to the CPU count.
func NewEnricher(esi *evegateway.Client, deadline time.Duration, workers int) *Enricher {
	if deadline <= 0 {
		deadline = DefaultEnrichmentDeadline
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Enricher{esi: esi, deadline: deadline, workers: workers}
}

// Enrich fetches the killmail body and resolves names. Returns an error only
// when the body fetch fails; partial lookup failures set Partial.
func (e *Enricher) Enrich(ctx context.Context, ref Reference) (*Enriched, error) {
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	km, err := e.esi.GetKillmail(ctx, ref.KillmailID, ref.Hash)
	if err != nil {
		return nil, fmt.Errorf("fetching killmail body %d: %w", ref.KillmailID, err)
	}

	out := &Enriched{
		Reference:         ref,
		KillmailTime:      km.KillmailTime,
		SolarSystemID:     km.SolarSystemID,
		VictimCharacterID: km.Victim.CharacterID,
		AttackerCount:     len(km.Attackers),
	}
	for _, att := range km.Attackers {
		if att.CharacterID != nil {
			out.AttackerCharacterIDs = append(out.AttackerCharacterIDs, *att.CharacterID)
		}
	}

	var mu sync.Mutex
	partial := false
	fail := func(what string, err error) {
		mu.Lock()
		partial = true
		mu.Unlock()
		slog.DebugContext(ctx, "Enrichment lookup failed", "what", what, "killmail_id", ref.KillmailID, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	g.Go(func() error {
		sys, err := e.esi.GetSystem(gctx, km.SolarSystemID)
		if err != nil {
			fail("system", err)
			return nil
		}
		mu.Lock()
		out.SystemName = sys.Name
		mu.Unlock()
		return nil
	})

	if km.Victim.CharacterID != nil {
		id := *km.Victim.CharacterID
		g.Go(func() error {
			char, err := e.esi.GetCharacter(gctx, id)
			if err != nil {
				fail("victim_character", err)
				return nil
			}
			mu.Lock()
			out.VictimName = char.Name
			mu.Unlock()
			return nil
		})
	}
	if km.Victim.CorporationID != nil {
		id := *km.Victim.CorporationID
		g.Go(func() error {
			corp, err := e.esi.GetCorporation(gctx, id)
			if err != nil {
				fail("victim_corporation", err)
				return nil
			}
			mu.Lock()
			out.VictimCorpName = corp.Name
			mu.Unlock()
			return nil
		})
	}
	if km.Victim.AllianceID != nil {
		id := *km.Victim.AllianceID
		g.Go(func() error {
			alliance, err := e.esi.GetAlliance(gctx, id)
			if err != nil {
				fail("victim_alliance", err)
				return nil
			}
			mu.Lock()
			out.VictimAllianceName = alliance.Name
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		ship, err := e.esi.GetType(gctx, km.Victim.ShipTypeID)
		if err != nil {
			fail("victim_ship", err)
			return nil
		}
		mu.Lock()
		out.VictimShipName = ship.Name
		mu.Unlock()
		return nil
	})

	for _, att := range km.Attackers {
		if !att.FinalBlow {
			continue
		}
		if att.CharacterID != nil {
			id := *att.CharacterID
			g.Go(func() error {
				char, err := e.esi.GetCharacter(gctx, id)
				if err != nil {
					fail("final_blow_character", err)
					return nil
				}
				mu.Lock()
				out.FinalBlowName = char.Name
				mu.Unlock()
				return nil
			})
		}
		if att.ShipTypeID != nil {
			id := *att.ShipTypeID
			g.Go(func() error {
				ship, err := e.esi.GetType(gctx, id)
				if err != nil {
					fail("final_blow_ship", err)
					return nil
				}
				mu.Lock()
				out.FinalBlowShipName = ship.Name
				mu.Unlock()
				return nil
			})
		}
		break
	}

	// Resolve every attacker character so the tracking filter has warm cache
	// entries; names are not kept, failures are tolerated.
	for _, id := range out.AttackerCharacterIDs {
		id := id
		g.Go(func() error {
			if _, err := e.esi.GetCharacter(gctx, id); err != nil {
				fail("attacker_character", err)
			}
			return nil
		})
	}

	g.Wait()
	out.Partial = partial
	return out, nil
}
