package queue

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// timestampLayout is fixed width so lexical comparison matches chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

const callColumns = "id, external_id, campaign_id, campaign_name, caller_number, status, attempt_count, audio_url, blob_path, claim_token, claimed_at, transcript_text, diarization_segments, quality_flags, quality_version, judge_model, skip_reason, duration_seconds, revenue, last_error, created_at, updated_at"

func scanCall(scanner interface{ Scan(dest ...any) error }) (*Call, error) {
	var (
		id           string
		externalID   string
		campaignID   sql.NullString
		campaignName sql.NullString
		callerNumber sql.NullString
		statusStr    string
		attemptCount int
		audioURL     sql.NullString
		blobPath     sql.NullString
		claimToken   sql.NullString
		claimedRaw   sql.NullString
		transcript   sql.NullString
		segments     sql.NullString
		qualityFlags sql.NullString
		qualityVer   sql.NullString
		judgeModel   sql.NullString
		skipReason   sql.NullString
		duration     sql.NullInt64
		revenue      sql.NullFloat64
		lastError    sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&externalID,
		&campaignID,
		&campaignName,
		&callerNumber,
		&statusStr,
		&attemptCount,
		&audioURL,
		&blobPath,
		&claimToken,
		&claimedRaw,
		&transcript,
		&segments,
		&qualityFlags,
		&qualityVer,
		&judgeModel,
		&skipReason,
		&duration,
		&revenue,
		&lastError,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	call := &Call{
		ID:                  id,
		ExternalID:          externalID,
		CampaignID:          campaignID.String,
		CampaignName:        campaignName.String,
		CallerNumber:        callerNumber.String,
		Status:              Status(statusStr),
		AttemptCount:        attemptCount,
		AudioURL:            audioURL.String,
		BlobPath:            blobPath.String,
		ClaimToken:          claimToken.String,
		TranscriptText:      transcript.String,
		DiarizationSegments: segments.String,
		QualityFlags:        qualityFlags.String,
		QualityVersion:      qualityVer.String,
		JudgeModel:          judgeModel.String,
		SkipReason:          skipReason.String,
		Revenue:             revenue.Float64,
		LastError:           lastError.String,
	}
	if duration.Valid {
		value := int(duration.Int64)
		call.DurationSeconds = &value
	}
	if claimedRaw.Valid {
		if claimed, err := parseTimeString(claimedRaw.String); err == nil {
			call.ClaimedAt = &claimed
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		call.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		call.UpdatedAt = updated
	}
	return call, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timestampLayout)
}

func nowString() string {
	return formatTime(time.Now())
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timestampLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

// maxErrorLength bounds last_error.
const maxErrorLength = 500

// TruncateError bounds an error message for last_error storage. Blank
// messages become "Unknown error".
func TruncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "Unknown error"
	}
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
