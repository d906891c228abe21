package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"llmgateway/internal/core"
)

type mongoConversationDocument struct {
	ID           string    `bson:"_id"`
	Title        *string   `bson:"title"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
	MessageCount int64     `bson:"message_count"`
}

func (d *mongoConversationDocument) toConversation() *Conversation {
	return &Conversation{
		ID:        d.ID,
		Title:     d.Title,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type mongoMessageDocument struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Seq            int64     `bson:"seq"`
	Role           string    `bson:"role"`
	Content        string    `bson:"content"`
	CreatedAt      time.Time `bson:"created_at"`
}

// MongoDBStore stores conversations in MongoDB.
type MongoDBStore struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewMongoDBStore creates collection indexes if needed.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	conversations := database.Collection("conversations")
	messages := database.Collection("conversation_messages")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}},
	}); err != nil {
		return nil, fmt.Errorf("create conversations indexes: %w", err)
	}
	if _, err := messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("create conversation_messages indexes: %w", err)
	}

	return &MongoDBStore{conversations: conversations, messages: messages}, nil
}

func (s *MongoDBStore) CreateConversation(ctx context.Context, title *string) (*Conversation, error) {
	c := newConversation(title)
	doc := mongoConversationDocument{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (s *MongoDBStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var doc mongoConversationDocument
	err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return doc.toConversation(), nil
}

func (s *MongoDBStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	limit = normalizeLimit(limit)
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.conversations.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]*Conversation, 0, limit)
	for cursor.Next(ctx) {
		var doc mongoConversationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode conversation document: %w", err)
		}
		items = append(items, doc.toConversation())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations cursor: %w", err)
	}
	return items, nil
}

func (s *MongoDBStore) UpdateConversation(ctx context.Context, id string, title *string) (*Conversation, error) {
	var doc mongoConversationDocument
	err := s.conversations.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"title": title, "updated_at": now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return doc.toConversation(), nil
}

func (s *MongoDBStore) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.conversations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// AppendMessages reserves a sequence range with an atomic $inc on the
// conversation, then inserts the messages.
func (s *MongoDBStore) AppendMessages(ctx context.Context, conversationID string, msgs []core.ChatMessage) ([]Message, error) {
	ts := now()
	built, err := buildMessages(conversationID, msgs, ts)
	if err != nil {
		return nil, err
	}

	var conv mongoConversationDocument
	err = s.conversations.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID},
		bson.M{
			"$set": bson.M{"updated_at": ts},
			"$inc": bson.M{"message_count": int64(len(built))},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reserve message sequence: %w", err)
	}
	if len(built) == 0 {
		return built, nil
	}

	first := conv.MessageCount - int64(len(built))
	docs := make([]any, 0, len(built))
	for i, m := range built {
		docs = append(docs, mongoMessageDocument{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Seq:            first + int64(i),
			Role:           string(m.Role),
			Content:        m.Content,
			CreatedAt:      ts,
		})
	}
	if _, err := s.messages.InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("insert messages: %w", err)
	}
	return built, nil
}

func (s *MongoDBStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	cursor, err := s.messages.Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cursor.Close(ctx)

	items := []Message{}
	for cursor.Next(ctx) {
		var doc mongoMessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message document: %w", err)
		}
		items = append(items, Message{
			ID:             doc.ID,
			ConversationID: doc.ConversationID,
			Role:           core.Role(doc.Role),
			Content:        doc.Content,
			CreatedAt:      doc.CreatedAt.UTC(),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages cursor: %w", err)
	}
	return items, nil
}

// Close is a no-op; Mongo client lifecycle is managed by storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
