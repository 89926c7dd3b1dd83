package database

import (
	"os"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConnectMongo opens the client backing the metadata store. An empty
// uri falls back to the MONGODB_URI environment variable.
func ConnectMongo(uri string) (*mongo.Client, error) {
	if uri == "" {
		uri = os.Getenv("MONGODB_URI")
	}
	return mongo.Connect(options.Client().
		ApplyURI(uri).
		SetBSONOptions(
			&options.BSONOptions{
				ObjectIDAsHexString: true,
			},
		))
}
