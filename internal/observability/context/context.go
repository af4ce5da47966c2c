package context

import (
	"context"
	"strconv"
)

type (
	runIDKey   struct{}
	jobKey     struct{}
	stationKey struct{}
	channelKey struct{}
	actorKey   struct{}
)

type actor struct {
	kind string
	id   string
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey{}).(string)
	return v
}

func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, jobKey{}, job)
}

func JobFromContext(ctx context.Context) string {
	v, _ := ctx.Value(jobKey{}).(string)
	return v
}

func WithStationID(ctx context.Context, stationID int64) context.Context {
	return context.WithValue(ctx, stationKey{}, stationID)
}

// StationIDFromContext returns the station id as a string, empty when unset.
func StationIDFromContext(ctx context.Context) string {
	v, ok := ctx.Value(stationKey{}).(int64)
	if !ok || v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func WithChannelID(ctx context.Context, channelID int64) context.Context {
	return context.WithValue(ctx, channelKey{}, channelID)
}

func ChannelIDFromContext(ctx context.Context) string {
	v, ok := ctx.Value(channelKey{}).(int64)
	if !ok || v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func WithActor(ctx context.Context, kind, id string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{kind: kind, id: id})
}

func ActorFromContext(ctx context.Context) (string, string) {
	v, _ := ctx.Value(actorKey{}).(actor)
	return v.kind, v.id
}
