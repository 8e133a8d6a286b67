// Package server exposes a user's stored activities to AI assistants over the
// Model Context Protocol.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"github.com/joshdurbin/fitnerd/internal/palette"
	"github.com/joshdurbin/fitnerd/internal/stats"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "fitnerd"
	serverVersion = "1.0.0"
	// maxResults caps find_similar_activities.
	maxResults     = 100
	defaultResults = 20
)

// ptr returns a pointer to the given value - useful for optional fields in structs
func ptr[T any](v T) *T {
	return &v
}

// Querier defines the database queries the tools need
type Querier interface {
	GetUser(ctx context.Context, id int64) (db.User, error)
	ListActivities(ctx context.Context, arg db.ListActivitiesParams) ([]db.Activity, error)
	ListSportTypes(ctx context.Context, userID int64) ([]string, error)
}

// Server wraps the MCP server and database queries
type Server struct {
	mcp     *mcp.Server
	queries Querier
}

// MCPServer returns the underlying MCP server (for use with HTTP/SSE transport)
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// New creates a new MCP server with activity statistics tools
func New(queries Querier) *Server {
	logging.Info("MCP server initializing", "name", serverName, "version", serverVersion)

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
		queries: queries,
	}
	s.registerTools()

	logging.Info("MCP server initialized", "tools_registered", 3)
	return s
}

// readOnly annotates tools that only read local data.
func readOnly(title string) *mcp.ToolAnnotations {
	return &mcp.ToolAnnotations{
		Title:           title,
		ReadOnlyHint:    true,
		IdempotentHint:  true,
		OpenWorldHint:   ptr(false),
		DestructiveHint: ptr(false),
	}
}

func (s *Server) registerTools() {
	logging.Debug("Registering tool", "name", "get_activity_summary")
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "get_activity_summary",
		Description: `Summarize a user's stored activities: count, total/average/greatest distance, elevation gain, duration, moving time, speed and max heart rate, with the activity holding each record.

Use when:
- User asks "How far have I run this year?" or "What's my fastest ride?"
- User wants totals for one activity type or a date range

Parameters:
- user_id (integer, required): Local user id.
- type (string): Sport type such as Run, Ride, Swim. Leave empty for all types.
- start_date / end_date (string): Inclusive YYYY-MM-DD bounds on the local start date.

Returns: Both imperial and metric figures, formatted with two decimals and comma grouping.`,
		Annotations: readOnly("Get Activity Summary"),
	}, s.getActivitySummary)

	logging.Debug("Registering tool", "name", "list_activity_types")
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "list_activity_types",
		Description: `List the sport types a user has recorded with their activity counts and chart colors, in the order they were first recorded.

Use when:
- You need valid type values for the other tools
- User asks "What kinds of activities do I do most?"`,
		Annotations: readOnly("List Activity Types"),
	}, s.listActivityTypes)

	logging.Debug("Registering tool", "name", "find_similar_activities")
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "find_similar_activities",
		Description: `Find activities resembling a description. Numbers match within 10% either side by default.

Parameters:
- user_id (integer, required): Local user id.
- title (string): Case-insensitive keyword in the activity name.
- types (array): Sport types to include.
- distance / elevation_gain (number): In the user's preferred units (miles and feet, or km and meters).
- elapsed_minutes / moving_minutes (number): Durations in minutes.
- start_date / end_date (string): Inclusive YYYY-MM-DD bounds.
- limit (integer): Default 20, maximum 100.

At least one criterion is required.

Example: {"user_id": 1, "types": ["Ride"], "distance": 25}`,
		Annotations: readOnly("Find Similar Activities"),
	}, s.findSimilarActivities)
}

// SummaryInput - input for get_activity_summary
type SummaryInput struct {
	UserID    int64  `json:"user_id" jsonschema:"Local user id whose activities are summarized."`
	Type      string `json:"type,omitempty" jsonschema:"Sport type to summarize, e.g. Run or Ride. Leave empty for every type."`
	StartDate string `json:"start_date,omitempty" jsonschema:"Include activities on or after this date. Format: YYYY-MM-DD."`
	EndDate   string `json:"end_date,omitempty" jsonschema:"Include activities on or before this date. Format: YYYY-MM-DD."`
}

// SummaryOutput - output for get_activity_summary
type SummaryOutput struct {
	Filter  string        `json:"filter"`
	Units   string        `json:"preferred_units"`
	Summary stats.Summary `json:"summary"`
}

func (s *Server) getActivitySummary(ctx context.Context, req *mcp.CallToolRequest, input SummaryInput) (*mcp.CallToolResult, SummaryOutput, error) {
	logging.Info("MCP tool call", "tool", "get_activity_summary", "user_id", input.UserID, "type", input.Type, "start", input.StartDate, "end", input.EndDate)
	if logging.IsVerbose() {
		logging.Debug("MCP request params", "tool", "get_activity_summary", "input", logging.ToJSON(input))
	}

	user, err := s.user(ctx, input.UserID)
	if err != nil {
		return nil, SummaryOutput{}, err
	}
	from, until, err := stats.ParseDateRange(input.StartDate, input.EndDate)
	if err != nil {
		return nil, SummaryOutput{}, NewInvalidInputErrorWithDetails("invalid date range", err.Error())
	}

	params := db.ListActivitiesParams{UserID: user.ID, From: from, Until: until}
	if input.Type != "" {
		params.SportTypes = []string{input.Type}
	}
	acts, err := s.queries.ListActivities(ctx, params)
	if err != nil {
		return nil, SummaryOutput{}, NewDatabaseErrorWithContext("activity listing", err)
	}

	return nil, SummaryOutput{
		Filter:  buildFilterDesc(input.Type, input.StartDate, input.EndDate),
		Units:   user.PreferredUnits,
		Summary: stats.Summarize(acts),
	}, nil
}

// TypesInput - input for list_activity_types
type TypesInput struct {
	UserID int64 `json:"user_id" jsonschema:"Local user id."`
}

// TypeInfo is one recorded sport type.
type TypeInfo struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
	Color string `json:"color,omitempty"`
}

// TypesOutput - output for list_activity_types
type TypesOutput struct {
	Types []TypeInfo `json:"types"`
	Total int        `json:"total"`
}

func (s *Server) listActivityTypes(ctx context.Context, req *mcp.CallToolRequest, input TypesInput) (*mcp.CallToolResult, TypesOutput, error) {
	logging.Info("MCP tool call", "tool", "list_activity_types", "user_id", input.UserID)

	user, err := s.user(ctx, input.UserID)
	if err != nil {
		return nil, TypesOutput{}, err
	}
	types, err := s.queries.ListSportTypes(ctx, user.ID)
	if err != nil {
		return nil, TypesOutput{}, NewDatabaseErrorWithContext("type listing", err)
	}
	acts, err := s.queries.ListActivities(ctx, db.ListActivitiesParams{UserID: user.ID})
	if err != nil {
		return nil, TypesOutput{}, NewDatabaseErrorWithContext("activity listing", err)
	}

	counts := make(map[string]int, len(types))
	for _, a := range acts {
		counts[a.SportType]++
	}
	colors := palette.Decode(user.ColorPalette)

	output := TypesOutput{Types: make([]TypeInfo, 0, len(types)), Total: len(acts)}
	for _, t := range types {
		output.Types = append(output.Types, TypeInfo{Type: t, Count: counts[t], Color: colors[t]})
	}
	return nil, output, nil
}

// SimilarInput - input for find_similar_activities
type SimilarInput struct {
	UserID         int64    `json:"user_id" jsonschema:"Local user id."`
	Title          string   `json:"title,omitempty" jsonschema:"Keyword that must appear in the activity name, case insensitive."`
	Types          []string `json:"types,omitempty" jsonschema:"Sport types to include, e.g. [\"Run\", \"TrailRun\"]."`
	Distance       float64  `json:"distance,omitempty" jsonschema:"Target distance in the user's preferred units (miles or km)."`
	ElevationGain  float64  `json:"elevation_gain,omitempty" jsonschema:"Target elevation gain in the user's preferred units (feet or meters)."`
	ElapsedMinutes float64  `json:"elapsed_minutes,omitempty" jsonschema:"Target elapsed time in minutes."`
	MovingMinutes  float64  `json:"moving_minutes,omitempty" jsonschema:"Target moving time in minutes."`
	StartDate      string   `json:"start_date,omitempty" jsonschema:"Earliest start date, inclusive. Format: YYYY-MM-DD."`
	EndDate        string   `json:"end_date,omitempty" jsonschema:"Latest start date, inclusive. Format: YYYY-MM-DD."`
	Limit          int      `json:"limit,omitempty" jsonschema:"Maximum number of activities to return. Default: 20, Maximum: 100."`
}

// SimilarActivity is one match, formatted in the user's units.
type SimilarActivity struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Date     string `json:"date"`
	Distance string `json:"distance"`
	Elev     string `json:"elevation_gain"`
	Elapsed  string `json:"elapsed_minutes"`
	Moving   string `json:"moving_minutes"`
}

// SimilarOutput - output for find_similar_activities
type SimilarOutput struct {
	Units         string            `json:"units"`
	Activities    []SimilarActivity `json:"activities"`
	TotalMatching int               `json:"total_matching"`
}

func (s *Server) findSimilarActivities(ctx context.Context, req *mcp.CallToolRequest, input SimilarInput) (*mcp.CallToolResult, SimilarOutput, error) {
	logging.Info("MCP tool call", "tool", "find_similar_activities", "user_id", input.UserID, "title", input.Title, "types", input.Types)
	if logging.IsVerbose() {
		logging.Debug("MCP request params", "tool", "find_similar_activities", "input", logging.ToJSON(input))
	}

	user, err := s.user(ctx, input.UserID)
	if err != nil {
		return nil, SimilarOutput{}, err
	}
	start, err := stats.ParseDate(input.StartDate)
	if err != nil {
		return nil, SimilarOutput{}, NewInvalidInputErrorWithDetails("invalid start_date", err.Error())
	}
	end, err := stats.ParseDate(input.EndDate)
	if err != nil {
		return nil, SimilarOutput{}, NewInvalidInputErrorWithDetails("invalid end_date", err.Error())
	}

	q := stats.Query{
		Title:      input.Title,
		Types:      input.Types,
		Distance:   input.Distance,
		ElevGain:   input.ElevationGain,
		ElapsedMin: input.ElapsedMinutes,
		MovingMin:  input.MovingMinutes,
		Start:      start,
		End:        end,
		Units:      user.PreferredUnits,
	}
	if q.Empty() {
		return nil, SimilarOutput{}, NewInvalidInputError("at least one search criterion is required")
	}

	acts, err := s.queries.ListActivities(ctx, db.ListActivitiesParams{UserID: user.ID})
	if err != nil {
		return nil, SimilarOutput{}, NewDatabaseErrorWithContext("activity listing", err)
	}
	results := stats.Search(acts, q)

	output := SimilarOutput{
		Units:         user.PreferredUnits,
		Activities:    []SimilarActivity{},
		TotalMatching: len(results),
	}
	for i, r := range results {
		if i == applyLimit(input.Limit) {
			break
		}
		output.Activities = append(output.Activities, SimilarActivity{
			ID:       r.ID,
			Name:     r.Name,
			Date:     r.Date.Format(time.DateOnly),
			Distance: r.Dist,
			Elev:     r.Elev,
			Elapsed:  r.Elapsed,
			Moving:   r.Moving,
		})
	}
	return nil, output, nil
}

// user resolves the user a tool call is about.
func (s *Server) user(ctx context.Context, id int64) (db.User, error) {
	if id <= 0 {
		return db.User{}, NewInvalidInputError("user_id is required")
	}
	user, err := s.queries.GetUser(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return db.User{}, NewNotFoundErrorWithID("user", id)
	}
	if err != nil {
		return db.User{}, NewDatabaseErrorWithContext("user lookup", err)
	}
	return user, nil
}

func applyLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultResults
	case limit > maxResults:
		return maxResults
	}
	return limit
}

// buildFilterDesc describes the filters a summary was computed with.
func buildFilterDesc(activityType, startDate, endDate string) string {
	desc := "all types"
	if activityType != "" {
		desc = "type=" + activityType
	}
	switch {
	case startDate != "" && endDate != "":
		return desc + ", " + startDate + " to " + endDate
	case startDate != "":
		return desc + ", from " + startDate
	case endDate != "":
		return desc + ", to " + endDate
	}
	return desc + ", all time"
}
