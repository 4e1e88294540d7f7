// Package judge implements the quality analysis lane.
//
// Transcribed calls are claimed with a sentinel token and scored by the
// configured QualityAnalyzer against the rule set for the call's campaign.
// The lane, not the analyzer, decides the disposition: a call is flagged when
// the analyzer flags it or its score falls below quality.flag_threshold.
// Transcripts too short to judge are marked safe without an analyzer call.
package judge
