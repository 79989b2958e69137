package mongo

import (
	"context"
	"log"
	"time"

	"permission_service/internal/config"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	Mongo_Client   *mongo.Client
	Mongo_Database *mongo.Database
)

func init() {
	cfg := config.ServiceConfig.MongoDB

	serverAPI := options.ServerAPI(options.ServerAPIVersion1)

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerAPIOptions(serverAPI).
		SetMaxPoolSize(cfg.PoolSize).
		SetMaxConnIdleTime(60 * time.Second).
		SetCompressors([]string{"zstd", "snappy", "zlib"}).
		SetRetryWrites(true).
		SetRetryReads(true)

	var err error
	Mongo_Client, err = mongo.Connect(opts)
	if err != nil {
		log.Fatalf("Fatal error connecting to MongoDB: %s", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()

	if err := Mongo_Client.Ping(pingCtx, nil); err != nil {
		log.Printf("Warning: Could not verify MongoDB connection: %s", err)
	} else {
		log.Println("Successfully connected to MongoDB")
	}

	Mongo_Database = Mongo_Client.Database(cfg.Database)

	log.Printf("MongoDB initialized - Database: %s, Max Pool Size: %d", cfg.Database, cfg.PoolSize)
}

func DisconnectMongo() {
	if Mongo_Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := Mongo_Client.Disconnect(ctx); err != nil {
			log.Printf("Error disconnecting from MongoDB: %s", err)
		} else {
			log.Println("Successfully disconnected from MongoDB")
		}
	}
}

func GetCollection(name string) *mongo.Collection {
	return Mongo_Database.Collection(name)
}

func IsConnected() bool {
	if Mongo_Client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return Mongo_Client.Ping(ctx, nil) == nil
}
