package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"
)

type Config struct {
	// MySQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis cache / queues
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Auth
	JWTSecret    string
	JWTExpiresIn time.Duration

	// Object storage
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string

	// AI generator (OpenAI-compatible Responses API)
	AIBaseURL    string
	AIAPIKey     string
	AIModel      string
	AITimeout    time.Duration
	AIMaxRetries int
	// Tolerance around the requested unit count a draft may deviate by,
	// as a fraction of target_units (band rounded up).
	AIUnitCountTolerance float64

	// Progress aggregation thresholds
	MasteryThreshold   float64 // assignments_score below this on a half-done unit flags review_needed
	MasteredPercentage int     // mastery_percentage at or above this on a completed unit means mastered
	StrengthScore      float64 // per-concept average at or above this is a strength
	StruggleScore      float64 // per-concept average below this is a struggle
	InsightTopN        int     // strengths/struggles list cap
	ReviewWindowDays   int     // struggles unpracticed this long land in recommended_review

	// HTTP server
	Port   string
	AppEnv string

	// Logging
	LogLevel string
	LogFile  string

	// Feature toggles
	UseRedisNotifications bool
	SkipMigrate           bool
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

var AppConfig *Config

// valueLookup resolves a config key with a default, from either SSM
// parameters or the process environment.
type valueLookup func(key, def string) string

func LoadConfig() {
	getVal := newValueLookup()

	AppConfig = &Config{
		DBHost:     getVal("DB_HOST", "localhost"),
		DBPort:     getVal("DB_PORT", "3306"),
		DBUser:     getVal("DB_USER", "root"),
		DBPassword: getVal("DB_PASSWORD", ""),
		DBName:     getVal("DB_NAME", "classplanner_go"),

		RedisHost:     getVal("REDIS_HOST", "localhost"),
		RedisPort:     getVal("REDIS_PORT", "6379"),
		RedisPassword: getVal("REDIS_PASSWORD", ""),

		JWTSecret:    getVal("JWT_SECRET", "your_super_secret_jwt_key"),
		JWTExpiresIn: parseLifetime("JWT_EXPIRES_IN", getVal("JWT_EXPIRES_IN", "24h")),

		AWSRegion:          getVal("AWS_REGION", "ap-southeast-1"),
		AWSAccessKeyID:     getVal("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getVal("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:       getVal("S3_BUCKET_NAME", "classplanner-storage"),

		AIBaseURL:            strings.TrimRight(getVal("AI_BASE_URL", "https://api.openai.com"), "/"),
		AIAPIKey:             getVal("AI_API_KEY", ""),
		AIModel:              getVal("AI_MODEL", "gpt-4o"),
		AITimeout:            parseLifetime("AI_TIMEOUT", getVal("AI_TIMEOUT", "120s")),
		AIMaxRetries:         getInt(getVal("AI_MAX_RETRIES", "3")),
		AIUnitCountTolerance: getFloat(getVal("AI_UNIT_COUNT_TOLERANCE", "0.25")),

		MasteryThreshold:   getFloat(getVal("MASTERY_THRESHOLD", "70")),
		MasteredPercentage: getInt(getVal("MASTERED_PERCENTAGE", "90")),
		StrengthScore:      getFloat(getVal("STRENGTH_SCORE", "80")),
		StruggleScore:      getFloat(getVal("STRUGGLE_SCORE", "50")),
		InsightTopN:        getInt(getVal("INSIGHT_TOP_N", "5")),
		ReviewWindowDays:   getInt(getVal("REVIEW_WINDOW_DAYS", "14")),

		Port:   getVal("PORT", "3000"),
		AppEnv: getVal("APP_ENV", "development"),

		LogLevel: getVal("LOG_LEVEL", "info"),
		LogFile:  getVal("LOG_FILE", "logs/app.log"),

		UseRedisNotifications: getBool(getVal("USE_REDIS_NOTIFICATIONS", "false")),
		SkipMigrate:           getBool(getVal("SKIP_MIGRATE", "false")),
	}

	validateConfig(AppConfig)
}

// newValueLookup picks the parameter source. With USE_SSM=true values come
// from the SSM Parameter Store under <SSM_BASE_PATH>/<STAGE>; otherwise from
// .env plus the process environment.
func newValueLookup() valueLookup {
	if getEnv("USE_SSM", "false") != "true" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found, reading environment directly")
		}
		return func(key, def string) string {
			return getEnv(strings.ToUpper(key), def)
		}
	}

	basePath := strings.TrimRight(getEnv("SSM_BASE_PATH", "/classplanner"), "/")
	stage := getEnv("STAGE", getEnv("APP_ENV", "production"))
	prefix := basePath + "/" + stage

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(getEnv("AWS_REGION", "ap-southeast-1")),
	})
	if err != nil {
		log.Fatal("Failed to create AWS session:", err)
	}
	log.Printf("loading parameters from SSM under %s", prefix)
	params := fetchSSMParameters(ssm.New(sess), prefix)

	return func(key, def string) string {
		upper := strings.ToUpper(key)
		if v, ok := params[upper]; ok && v != "" {
			return v
		}
		return getEnv(upper, def)
	}
}

// parseLifetime accepts Go duration syntax plus "Nd" (days) and "Nw" (weeks)
// shorthand.
func parseLifetime(name, value string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	s := strings.TrimSpace(strings.ToLower(value))
	if len(s) > 1 {
		if n, err := strconv.Atoi(s[:len(s)-1]); err == nil {
			switch s[len(s)-1] {
			case 'd':
				return time.Duration(n) * 24 * time.Hour
			case 'w':
				return time.Duration(n) * 7 * 24 * time.Hour
			}
		}
	}
	log.Fatalf("Invalid duration for %s: %q", name, value)
	return 0
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Fatalf("Invalid integer config value %q: %v", value, err)
	}
	return n
}

func getFloat(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		log.Fatalf("Invalid numeric config value %q: %v", value, err)
	}
	return f
}

func getBool(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), "true")
}

// fetchSSMParameters pages through every parameter below prefix and keys the
// result by the UPPERCASED final path segment.
func fetchSSMParameters(client *ssm.SSM, prefix string) map[string]string {
	params := make(map[string]string)
	var token *string
	for {
		resp, err := client.GetParametersByPath(&ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
			NextToken:      token,
		})
		if err != nil {
			log.Printf("Warning: unable to fetch SSM parameters for prefix %s: %v", prefix, err)
			return params
		}
		for _, p := range resp.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			if key := lastPathSegment(*p.Name); key != "" {
				params[strings.ToUpper(key)] = *p.Value
			}
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			return params
		}
		token = resp.NextToken
	}
}

func lastPathSegment(name string) string {
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// validateConfig refuses to start a production process with missing or weak
// secrets. Development and test environments are left alone.
func validateConfig(c *Config) {
	if !strings.EqualFold(c.AppEnv, "production") {
		return
	}
	if strings.TrimSpace(c.DBPassword) == "" {
		log.Fatal("DB_PASSWORD must be set in production")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		log.Fatal("JWT_SECRET must be set in production")
	}
	if len(c.JWTSecret) < 16 {
		log.Fatal("JWT_SECRET too short (min 16 chars)")
	}
}
