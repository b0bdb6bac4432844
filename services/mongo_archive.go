package services

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stationboard/models"
)

// MongoDB database and collection names
const (
	MongoDBName            = "stationboard"
	MongoResultsCollection = "scrape_results"
)

// MongoArchive mirrors raw scrape payloads to MongoDB Atlas when a cluster
// is configured. Purely additive; the relational store stays authoritative.
type MongoArchive struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	uriSet      bool   // Whether MONGODB_URI is configured
	lastError   string // Last connection error message
}

// Global MongoDB archive instance
var GlobalMongoArchive *MongoArchive

// InitMongoArchive initializes the MongoDB archive client
func InitMongoArchive() error {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		log.Println("MONGODB_URI not set, MongoDB archive disabled")
		GlobalMongoArchive = &MongoArchive{
			uriSet:    false,
			lastError: "MONGODB_URI environment variable not set",
		}
		return nil
	}

	GlobalMongoArchive = &MongoArchive{
		uriSet: true,
	}

	return GlobalMongoArchive.Connect()
}

// Connect establishes the MongoDB connection
func (m *MongoArchive) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(os.Getenv("MONGODB_URI")))
	if err != nil {
		m.lastError = err.Error()
		log.Printf("MongoDB connection failed: %v", err)
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		m.lastError = err.Error()
		log.Printf("MongoDB ping failed: %v", err)
		return err
	}

	m.client = client
	m.database = client.Database(MongoDBName)
	m.isConnected = true
	m.lastError = ""
	log.Println("MongoDB archive connected")
	return nil
}

// IsAvailable reports whether the archive is configured and connected
func (m *MongoArchive) IsAvailable() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uriSet && m.isConnected
}

// Close disconnects the MongoDB client
func (m *MongoArchive) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.isConnected = false
	return m.client.Disconnect(ctx)
}

// ArchiveResult mirrors one scrape result document
func (m *MongoArchive) ArchiveResult(ctx context.Context, result *models.ScrapeResult) error {
	if !m.IsAvailable() {
		return nil
	}

	doc := bson.M{
		"account_id":  result.AccountID,
		"status":      result.Status,
		"error_kind":  result.ErrorKind,
		"gear_data":   result.GearData,
		"alerts_data": result.AlertsData,
		"diagnostic":  result.Diagnostic,
		"scraped_at":  result.ScrapedAt,
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	m.mu.RLock()
	collection := m.database.Collection(MongoResultsCollection)
	m.mu.RUnlock()

	_, err := collection.InsertOne(ctx, doc)
	if err != nil {
		log.Printf("MongoDB archive insert failed: %v", err)
	}
	return err
}
