// Package ingest turns call-log records into queue rows.
//
// New calls enter as pending, or as skipped when the reported duration shows
// there is nothing to transcribe (zero_duration, too_short). Campaigns are
// resolved to internal ids through a CampaignCache: in process by default, or
// in Redis when several daemons share a database.
//
// The Syncer serves both the live loop, which re-reads a short lookback
// window on a fixed interval, and the backfill runner, through Fetch.
package ingest
