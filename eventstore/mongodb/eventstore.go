// Copyright (c) 2018 - The Event Horizon authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/mongoutils"
	"github.com/looplab/eventdispatch/uuid"
)

// EventStore is an eventdispatch.EventStore for MongoDB, using one collection
// for all events and another to keep track of all aggregates/streams. It also
// keeps track of the global position of events, stored as metadata.
//
// A save joins the session of the context when there is one, for example one
// started by the transaction manager in transaction/mongodb, and otherwise
// runs in a transaction of its own.
type EventStore struct {
	client          *mongo.Client
	clientOwnership clientOwnership
	events          *mongo.Collection
	streams         *mongo.Collection
	eventHandler    ed.EventHandler
}

type clientOwnership int

const (
	internalClient clientOwnership = iota
	externalClient
)

// NewEventStore creates a new EventStore with a MongoDB URI: `mongodb://hostname`.
func NewEventStore(uri, dbName string, options ...Option) (*EventStore, error) {
	client, err := mongoutils.Connect(uri)
	if err != nil {
		return nil, err
	}

	return newEventStoreWithClient(client, internalClient, dbName, options...)
}

// NewEventStoreWithClient creates a new EventStore with a client.
func NewEventStoreWithClient(client *mongo.Client, dbName string, options ...Option) (*EventStore, error) {
	return newEventStoreWithClient(client, externalClient, dbName, options...)
}

func newEventStoreWithClient(client *mongo.Client, clientOwnership clientOwnership, dbName string, opts ...Option) (*EventStore, error) {
	if client == nil {
		return nil, fmt.Errorf("missing DB client")
	}

	db := client.Database(dbName)
	s := &EventStore{
		client:          client,
		clientOwnership: clientOwnership,
		events:          db.Collection("events"),
		streams:         db.Collection("streams"),
	}

	for _, option := range opts {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	ctx := context.Background()

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not connect to MongoDB: %w", err)
	}

	// The unique index is the last line of defence against two saves
	// writing the same version of a stream.
	if _, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("could not ensure events index: %w", err)
	}

	// Make sure the $all stream exists.
	if err := s.streams.FindOne(ctx, bson.M{
		"_id": "$all",
	}).Err(); errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := s.streams.InsertOne(ctx, bson.M{
			"_id":      "$all",
			"position": 0,
		}); err != nil && !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("could not create the $all stream document: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("could not find the $all stream document: %w", err)
	}

	return s, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithEventHandler adds an event handler that will be called after saving events.
// An example would be to add an event bus to publish events.
func WithEventHandler(h ed.EventHandler) Option {
	return func(s *EventStore) error {
		if s.eventHandler != nil {
			return fmt.Errorf("another event handler is already set")
		}

		s.eventHandler = h

		return nil
	}
}

// WithCollectionNames uses different collections from the default "events" and "streams" collections.
// Will return an error if provided parameters are equal.
func WithCollectionNames(eventsColl, streamsColl string) Option {
	return func(s *EventStore) error {
		if err := mongoutils.CheckCollectionName(eventsColl); err != nil {
			return fmt.Errorf("events collection: %w", err)
		} else if err := mongoutils.CheckCollectionName(streamsColl); err != nil {
			return fmt.Errorf("streams collection: %w", err)
		} else if eventsColl == streamsColl {
			return fmt.Errorf("custom collection names are equal")
		}

		db := s.events.Database()
		s.events = db.Collection(eventsColl)
		s.streams = db.Collection(streamsColl)

		return nil
	}
}

// Save implements the Save method of the eventdispatch.EventStore interface.
func (s *EventStore) Save(ctx context.Context, events []ed.Event) error {
	if len(events) == 0 {
		return &ed.EventStoreError{
			Err: ed.ErrMissingEvents,
			Op:  ed.EventStoreOpSave,
		}
	}

	id := events[0].AggregateID()
	at := events[0].AggregateType()
	first := events[0].Version()

	saveErr := func(err error) error {
		return &ed.EventStoreError{
			Err:           err,
			Op:            ed.EventStoreOpSave,
			AggregateType: at,
			AggregateID:   id,
			Version:       first,
			Events:        events,
		}
	}

	// The batch must be consistent in itself before the stored version is
	// known, which is checked in the transaction.
	if err := ed.CheckEventsToSave(events, first); err != nil {
		return saveErr(err)
	}

	dbEvents := make([]*evt, len(events))

	for i, event := range events {
		e, err := newEvt(event)
		if err != nil {
			return saveErr(err)
		}

		dbEvents[i] = e
	}

	save := func(txCtx context.Context) (interface{}, error) {
		return nil, s.save(txCtx, dbEvents, first)
	}

	if sess := mongo.SessionFromContext(ctx); sess != nil {
		// Part of a transaction owned by the caller.
		if _, err := save(ctx); err != nil {
			return saveErr(err)
		}
	} else {
		sess, err := s.client.StartSession()
		if err != nil {
			return saveErr(fmt.Errorf("could not start transaction: %w", err))
		}

		defer sess.EndSession(ctx)

		if _, err := sess.WithTransaction(ctx, save); err != nil {
			return saveErr(err)
		}
	}

	// Let the optional event handler handle the events.
	if s.eventHandler != nil {
		for _, e := range events {
			if err := s.eventHandler.HandleEvent(ctx, e); err != nil {
				return &ed.EventHandlerError{
					Err:   err,
					Event: e,
				}
			}
		}
	}

	return nil
}

// save writes the events and moves the stream forward, within a transaction.
func (s *EventStore) save(txCtx context.Context, dbEvents []*evt, first int) error {
	last := dbEvents[len(dbEvents)-1]

	var strm stream

	stored := 0
	if err := s.streams.FindOne(txCtx, bson.M{"_id": last.AggregateID}).Decode(&strm); err == nil {
		stored = strm.Version
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("could not find stream: %w", err)
	}

	if first != stored {
		return ed.ErrIncorrectEventVersion
	}

	// Fetch and increment global version in the all-stream.
	r := s.streams.FindOneAndUpdate(txCtx,
		bson.M{"_id": "$all"},
		bson.M{"$inc": bson.M{"position": len(dbEvents)}},
	)
	if r.Err() != nil {
		return fmt.Errorf("could not increment global position: %w", r.Err())
	}

	allStream := struct {
		Position int `bson:"position"`
	}{}
	if err := r.Decode(&allStream); err != nil {
		return fmt.Errorf("could not decode global position: %w", err)
	}

	docs := make([]interface{}, len(dbEvents))

	for i, e := range dbEvents {
		e.Position = allStream.Position + i + 1
		e.Metadata["position"] = e.Position
		docs[i] = e
	}

	if _, err := s.events.InsertMany(txCtx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ed.ErrEventConflictFromOtherSave
		}

		return fmt.Errorf("could not insert events: %w", err)
	}

	next := last.Version + 1

	if stored == 0 {
		if _, err := s.streams.InsertOne(txCtx, stream{
			ID:            last.AggregateID,
			Position:      last.Position,
			AggregateType: last.AggregateType,
			Version:       next,
			UpdatedAt:     last.Timestamp,
		}); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ed.ErrEventConflictFromOtherSave
			}

			return fmt.Errorf("could not insert stream: %w", err)
		}

		return nil
	}

	res, err := s.streams.UpdateOne(txCtx,
		bson.M{
			"_id":     last.AggregateID,
			"version": stored,
		},
		bson.M{
			"$set": bson.M{
				"position":   last.Position,
				"version":    next,
				"updated_at": last.Timestamp,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("could not update stream: %w", err)
	} else if res.MatchedCount == 0 {
		return ed.ErrEventConflictFromOtherSave
	}

	return nil
}

// Load implements the Load method of the eventdispatch.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]ed.Event, error) {
	opts := options.Find().SetSort(bson.M{"version": 1})

	cursor, err := s.events.Find(ctx, bson.M{"aggregate_id": id.String()}, opts)
	if err != nil {
		return nil, &ed.EventStoreError{
			Err:         fmt.Errorf("could not find event: %w", err),
			Op:          ed.EventStoreOpLoad,
			AggregateID: id,
		}
	}
	defer cursor.Close(ctx)

	events := []ed.Event{}

	for cursor.Next(ctx) {
		var e evt
		if err := cursor.Decode(&e); err != nil {
			return nil, &ed.EventStoreError{
				Err:         fmt.Errorf("could not decode event: %w", err),
				Op:          ed.EventStoreOpLoad,
				AggregateID: id,
				Events:      events,
			}
		}

		event, err := e.event(id)
		if err != nil {
			return nil, &ed.EventStoreError{
				Err:           err,
				Op:            ed.EventStoreOpLoad,
				AggregateType: e.AggregateType,
				AggregateID:   id,
				Version:       e.Version,
				Events:        events,
			}
		}

		events = append(events, event)
	}

	if err := cursor.Err(); err != nil {
		return nil, &ed.EventStoreError{
			Err:         fmt.Errorf("could not read events: %w", err),
			Op:          ed.EventStoreOpLoad,
			AggregateID: id,
			Events:      events,
		}
	}

	if len(events) == 0 {
		return events, &ed.EventStoreError{
			Err:         ed.ErrAggregateNotFound,
			Op:          ed.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	return events, nil
}

// Clear clears the event storage.
func (s *EventStore) Clear(ctx context.Context) error {
	if err := s.events.Drop(ctx); err != nil {
		return fmt.Errorf("could not clear events collection: %w", err)
	}

	if _, err := s.streams.DeleteMany(ctx, bson.M{"_id": bson.M{"$ne": "$all"}}); err != nil {
		return fmt.Errorf("could not clear streams collection: %w", err)
	}

	return nil
}

// Close implements the Close method of the eventdispatch.EventStore interface.
func (s *EventStore) Close() error {
	if s.clientOwnership == externalClient {
		// Don't close a client we don't own.
		return nil
	}

	return s.client.Disconnect(context.Background())
}

// stream is a stream of events, often containing the events for an aggregate.
// Version is the number of stored events, which is the version of the next.
type stream struct {
	ID            string           `bson:"_id"`
	Position      int              `bson:"position"`
	AggregateType ed.AggregateType `bson:"aggregate_type"`
	Version       int              `bson:"version"`
	UpdatedAt     time.Time        `bson:"updated_at"`
}

// evt is the internal event record for the MongoDB event store used
// to save and load events from the DB.
type evt struct {
	Position      int                    `bson:"_id"`
	EventType     ed.EventType           `bson:"event_type"`
	Timestamp     time.Time              `bson:"timestamp"`
	AggregateType ed.AggregateType       `bson:"aggregate_type"`
	AggregateID   string                 `bson:"aggregate_id"`
	Version       int                    `bson:"version"`
	RawData       bson.Raw               `bson:"data,omitempty"`
	Metadata      map[string]interface{} `bson:"metadata"`
}

// newEvt returns a new evt for an event.
func newEvt(event ed.Event) (*evt, error) {
	e := &evt{
		EventType:     event.EventType(),
		Timestamp:     event.Timestamp(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID().String(),
		Version:       event.Version(),
		Metadata:      make(map[string]interface{}, len(event.Metadata())+1),
	}

	// The position is added to a copy, the saved event is left untouched.
	for k, v := range event.Metadata() {
		e.Metadata[k] = v
	}

	// Marshal event data if there is any.
	if event.Data() != nil {
		var err error
		if e.RawData, err = bson.Marshal(event.Data()); err != nil {
			return nil, fmt.Errorf("could not marshal event data: %w", err)
		}
	}

	return e, nil
}

// event creates the event of the record, decoding the data into a registered
// type.
func (e *evt) event(id uuid.UUID) (ed.Event, error) {
	var data ed.EventData

	if len(e.RawData) > 0 {
		var err error
		if data, err = ed.CreateEventData(e.EventType); err != nil {
			return nil, fmt.Errorf("could not create event data: %w", err)
		}

		if err := bson.Unmarshal(e.RawData, data); err != nil {
			return nil, fmt.Errorf("could not unmarshal event data: %w", err)
		}
	}

	return ed.NewEvent(
		e.EventType,
		data,
		e.Timestamp,
		ed.ForAggregate(
			e.AggregateType,
			id,
			e.Version,
		),
		ed.WithMetadata(e.Metadata),
	), nil
}
