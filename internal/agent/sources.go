package agent

import (
	"context"
	"fmt"

	"github.com/vibecoder/research-engine/internal/session"
)

// defaultConfidence is assigned to supported claims whose grounding support
// carries fewer confidence scores than chunk indices.
const defaultConfidence = 0.5

// CollectResearchSources scans the session's events for grounding metadata
// and folds newly cited web sources into the session's source registry.
//
// Short identifiers (src-1, src-2, ...) are assigned in first-seen order and
// continue from the current registry size, so re-running over the same event
// prefix never reassigns an existing identifier. Chunk indices are scoped to
// a single event; the chunk-to-identifier map is rebuilt per event. Events
// without grounding metadata are skipped, never an error.
//
// All registry mutation happens inside UpdateRegistry, under the session's
// write lock, so server-side snapshots taken mid-run are safe.
func CollectResearchSources(_ context.Context, inv *Invocation) (string, error) {
	sess := inv.Session
	events := sess.Events()

	newSources := 0
	newClaims := 0
	registrySize := 0

	sess.UpdateRegistry(func(urlToShortID map[string]string, sources map[string]*session.SourceInfo) {
		idCounter := len(urlToShortID) + 1

		for _, event := range events {
			gm := event.Grounding
			if gm == nil || len(gm.GroundingChunks) == 0 {
				continue
			}

			// Chunk indices below are only meaningful within this event.
			chunkShortIDs := make(map[int]string, len(gm.GroundingChunks))
			for idx, chunk := range gm.GroundingChunks {
				if chunk == nil || chunk.Web == nil {
					continue
				}
				url := chunk.Web.URI
				if _, ok := urlToShortID[url]; !ok {
					shortID := fmt.Sprintf("src-%d", idCounter)
					urlToShortID[url] = shortID
					sources[shortID] = &session.SourceInfo{
						ShortID:         shortID,
						Title:           chunk.Web.Title,
						URL:             url,
						Domain:          chunk.Web.Domain,
						SupportedClaims: []session.SupportedClaim{},
					}
					idCounter++
					newSources++
				}
				chunkShortIDs[idx] = urlToShortID[url]
			}

			for _, support := range gm.GroundingSupports {
				if support == nil {
					continue
				}
				for i, chunkIdx := range support.GroundingChunkIndices {
					shortID, ok := chunkShortIDs[int(chunkIdx)]
					if !ok {
						continue
					}
					confidence := defaultConfidence
					if i < len(support.ConfidenceScores) {
						confidence = float64(support.ConfidenceScores[i])
					}
					text := ""
					if support.Segment != nil {
						text = support.Segment.Text
					}
					src := sources[shortID]
					src.SupportedClaims = append(src.SupportedClaims, session.SupportedClaim{
						TextSegment: text,
						Confidence:  confidence,
					})
					newClaims++
				}
			}
		}

		registrySize = len(sources)
	})

	if inv.Telemetry != nil {
		inv.Telemetry.RecordSourceCollection(newSources, newClaims)
	}
	if newSources > 0 {
		inv.Logger.Printf("collected %d new sources (%d claims), registry size %d", newSources, newClaims, registrySize)
	}
	return "", nil
}
