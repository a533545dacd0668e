// Package gcp holds what the BigQuery and Pub/Sub wrappers share: credential
// options, resource names and NotFound detection across REST and gRPC.
package gcp

import (
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/storefront-backend/pkg/config"
)

// ClientOptions prefers inline JSON credentials over a credentials file.
// With neither set the SDKs fall back to application default credentials.
func ClientOptions(cfg config.GCPConfig) []option.ClientOption {
	if js := strings.TrimSpace(cfg.CredentialsJSON); js != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(js))}
	}
	if file := strings.TrimSpace(cfg.ApplicationCredentials); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

// ResourceName qualifies name as projects/<project>/<collection>/<name>.
// Names that are already qualified pass through; blank input yields "".
func ResourceName(project, collection, name string) string {
	name = strings.TrimSpace(name)
	project = strings.TrimSpace(project)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+collection+"/") {
		return name
	}
	if project == "" {
		return ""
	}
	return "projects/" + project + "/" + collection + "/" + name
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound
	}
	return status.Code(err) == codes.NotFound
}
