package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv          = "STOREFRONT_APP_ENV"
	EnvPort            = "STOREFRONT_APP_PORT"
	EnvLogLevel        = "STOREFRONT_LOG_LEVEL"
	EnvAppPublicOrigin = "STOREFRONT_APP_PUBLIC_ORIGIN"

	EnvDBDSN  = "STOREFRONT_DB_DSN"
	EnvDBHost = "STOREFRONT_DB_HOST"
	EnvDBPort = "STOREFRONT_DB_PORT"
	EnvDBUser = "STOREFRONT_DB_USER"
	EnvDBPass = "STOREFRONT_DB_PASSWORD"
	EnvDBName = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvJWTSecret = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer = "STOREFRONT_JWT_ISSUER"

	EnvCartCookieTTL     = "STOREFRONT_CART_COOKIE_TTL"
	EnvCartLockStockRows = "STOREFRONT_CART_LOCK_STOCK_ROWS"

	EnvGCPProjectID = "STOREFRONT_GCP_PROJECT_ID"

	EnvPubSubOrdersTopic       = "STOREFRONT_PUBSUB_ORDERS_TOPIC"
	EnvPubSubNotificationSub   = "STOREFRONT_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubAnalyticsSub      = "STOREFRONT_PUBSUB_ANALYTICS_SUBSCRIPTION"
	EnvBigQueryDataset         = "STOREFRONT_BIGQUERY_DATASET"
	EnvBigQueryOrderEventTable = "STOREFRONT_BIGQUERY_ORDER_EVENTS_TABLE"
)
