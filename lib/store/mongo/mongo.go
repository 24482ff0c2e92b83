// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/vcw/lib/store"
)

const database = "vcw"

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri. Unique indexes on usernames and
// transaction hashes are ensured at connection time, so duplicate checks hold under concurrent writers too.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	m := &Mongo{c: c}

	uniq := options.Index().SetUnique(true)
	if _, err = m.users().Indexes().CreateOne(context.Background(),
		mgo.IndexModel{Keys: bson.D{{Key: "username", Value: 1}}, Options: uniq}); err != nil {
		return nil, fmt.Errorf("cannot ensure username index: %w", err)
	}
	if _, err = m.trans().Indexes().CreateOne(context.Background(),
		mgo.IndexModel{Keys: bson.D{{Key: "hash", Value: 1}}, Options: options.Index().SetUnique(true)}); err != nil {
		return nil, fmt.Errorf("cannot ensure transaction index: %w", err)
	}

	return m, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) users() *mgo.Collection {
	return m.c.Database(database).Collection("users")
}

func (m *Mongo) trans() *mgo.Collection {
	return m.c.Database(database).Collection("trans")
}

// AddUser saves a user record if the username does not already exist.
func (m *Mongo) AddUser(u store.User) error {
	_, err := m.users().InsertOne(context.Background(), u)
	if mgo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("could not insert user in db: %w", err)
	}
	return nil
}

// GetUser returns the user record for the given username (exact, case-sensitive match).
func (m *Mongo) GetUser(username string) (store.User, error) {
	var u store.User

	err := m.users().FindOne(context.Background(), bson.M{"username": username}).Decode(&u)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return u, store.ErrUserNotFound
	}
	if err != nil {
		return u, fmt.Errorf("could not get user from db: %w", err)
	}
	return u, nil
}

// ListUsers returns all user records ordered by username.
func (m *Mongo) ListUsers() ([]store.User, error) {
	docs, err := m.users().Find(context.Background(), bson.M{},
		options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("could not list users from db: %w", err)
	}

	users := []store.User{}
	for docs.Next(context.Background()) {
		var u store.User
		if err = bson.Unmarshal(docs.Current, &u); err == nil {
			users = append(users, u)
		}
	}
	return users, nil
}

// NextAccountIndex allocates the next HD derivation index from an atomic counter document.
func (m *Mongo) NextAccountIndex() (uint32, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}

	after := options.After
	err := m.c.Database(database).Collection("counters").FindOneAndUpdate(context.Background(),
		bson.M{"_id": "account"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(after)).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("could not allocate account index: %w", err)
	}
	return uint32(doc.Seq), nil
}

// SaveTrans persists a transaction record of the audit trail.
func (m *Mongo) SaveTrans(t store.TxRecord) error {
	_, err := m.trans().InsertOne(context.Background(), t)
	if mgo.IsDuplicateKeyError(err) {
		return nil // hash already recorded
	}
	if err != nil {
		return fmt.Errorf("could not insert transaction in db: %w", err)
	}
	return nil
}

// GetTrans returns the transaction records involving the given username, oldest first.
func (m *Mongo) GetTrans(username string) ([]store.TxRecord, error) {
	docs, err := m.trans().Find(context.Background(), bson.M{"username": username},
		options.Find().SetSort(bson.D{{Key: "created", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("could not get transactions from db: %w", err)
	}

	txs := []store.TxRecord{}
	for docs.Next(context.Background()) {
		var t store.TxRecord
		if err = bson.Unmarshal(docs.Current, &t); err == nil {
			txs = append(txs, t)
		}
	}
	return txs, nil
}

// SetTransStatus updates the status of a recorded transaction once its receipt is known.
func (m *Mongo) SetTransStatus(hash string, status uint8) error {
	res, err := m.trans().UpdateOne(context.Background(),
		bson.M{"hash": hash},
		bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("could not update transaction in db: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrTransNotFound
	}
	return nil
}
