// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// WeaviateSink mirrors the audit trail into the SurveyAuditEntry class so
// it can be queried next to the catalog data.
type WeaviateSink struct {
	client *weaviate.Client
}

var _ Sink = (*WeaviateSink)(nil)

func NewWeaviateSink(client *weaviate.Client) *WeaviateSink {
	return &WeaviateSink{client: client}
}

func (s *WeaviateSink) Record(ctx context.Context, entry Entry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.client.Data().Creator().
		WithClassName("SurveyAuditEntry").
		WithProperties(map[string]interface{}{
			"session_id":      entry.SessionID,
			"kind":            entry.Kind,
			"question_number": entry.QuestionNumber,
			"question":        entry.Question,
			"detail":          entry.Detail,
			"timestamp":       ts.Format(time.RFC3339),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("record audit entry for session %s: %w", entry.SessionID, err)
	}
	return nil
}

func (s *WeaviateSink) Close() error {
	return nil
}
