package testutil

import (
	"context"
	"time"

	"github.com/flexprice/dealpay/internal/cache"
	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/currency"
	"github.com/flexprice/dealpay/internal/domain/payment"
	"github.com/flexprice/dealpay/internal/lock"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/postgres"
	"github.com/flexprice/dealpay/internal/sentry"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds the repositories used by service tests
type Stores struct {
	PaymentRepo payment.Repository
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	stores Stores
	db     *MockPostgresClient
	logger *logger.Logger
	config *config.Configuration
	now    time.Time

	gateway   *FakeGateway
	crm       *FakeCRM
	cache     cache.Cache
	locker    *lock.MemoryLocker
	lock      *lock.Service
	rates     *StaticRateProvider
	converter *currency.Converter
	sentry    *sentry.Service
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	var err error
	s.logger, err = logger.NewLogger(TestConfig())
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
}

// TestConfig returns the default configuration tuned for fast tests
func TestConfig() *config.Configuration {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	cfg.Lock.Backend = types.LockBackendMemory
	cfg.Lock.MaxRetries = 2
	cfg.Lock.RetryDelay = 5 * time.Millisecond
	cfg.Payments.PageRetries = 2
	cfg.HubSpot.TaskOwnerID = "owner_1"
	return cfg
}

// SetupTest is called before each test. Tests may change the configuration;
// it is rebuilt for every test.
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.config = TestConfig()
	s.now = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	s.setupStores()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupStores() {
	s.db = NewMockPostgresClient()
	s.stores = Stores{
		PaymentRepo: NewInMemoryPaymentStore(),
	}

	s.gateway = NewFakeGateway()
	s.gateway.SetNow(s.GetNow)
	s.crm = NewFakeCRM(s.config.Payments.Trigger.Property)
	s.cache = cache.NewInMemoryCache()
	s.locker = lock.NewMemoryLocker()
	s.lock = lock.NewService(s.locker, s.config, s.logger)
	s.rates = NewStaticRateProvider()
	s.rates.SetRate("EUR", "PLN", "4.25")
	s.rates.SetRate("USD", "PLN", "3.95")
	s.converter = currency.NewConverter(s.rates, s.cache, s.config, s.logger)
	s.sentry = sentry.NewSentryService(s.config, s.logger)
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.PaymentRepo.(*InMemoryPaymentStore).Clear()
	s.cache.Flush(context.Background())
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.clearStores()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

// GetMockDB exposes the transaction counter of the test database client
func (s *BaseServiceTestSuite) GetMockDB() *MockPostgresClient {
	return s.db
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetPaymentStore returns the in-memory ledger
func (s *BaseServiceTestSuite) GetPaymentStore() *InMemoryPaymentStore {
	return s.stores.PaymentRepo.(*InMemoryPaymentStore)
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}

// SetNow moves the test clock
func (s *BaseServiceTestSuite) SetNow(now time.Time) {
	s.now = now.UTC()
}

// Advance moves the test clock forward
func (s *BaseServiceTestSuite) Advance(d time.Duration) {
	s.now = s.now.Add(d)
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}

func (s *BaseServiceTestSuite) GetGateway() *FakeGateway {
	return s.gateway
}

func (s *BaseServiceTestSuite) GetCRM() *FakeCRM {
	return s.crm
}

func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

func (s *BaseServiceTestSuite) GetLocker() *lock.MemoryLocker {
	return s.locker
}

func (s *BaseServiceTestSuite) GetLockService() *lock.Service {
	return s.lock
}

func (s *BaseServiceTestSuite) GetRates() *StaticRateProvider {
	return s.rates
}

func (s *BaseServiceTestSuite) GetConverter() *currency.Converter {
	return s.converter
}

func (s *BaseServiceTestSuite) GetSentry() *sentry.Service {
	return s.sentry
}
