package cacheconfig

// CacheMode controls how a cache's data is distributed.
type CacheMode int32

const (
	CacheModeLocal CacheMode = iota
	CacheModeReplicated
	CacheModePartitioned
)

type AtomicityMode int32

const (
	AtomicityTransactional AtomicityMode = iota
	AtomicityAtomic
)

type WriteSynchronizationMode int32

const (
	FullSync WriteSynchronizationMode = iota
	FullAsync
	PrimarySync
)

type RebalanceMode int32

const (
	RebalanceSync RebalanceMode = iota
	RebalanceAsync
	RebalanceNone
)

type PartitionLossPolicy int32

const (
	ReadOnlySafe PartitionLossPolicy = iota
	ReadOnlyAll
	ReadWriteSafe
	ReadWriteAll
	Ignore
)

// Defaults returns the values a node reports for properties nobody set.
func Defaults() *Configuration {
	c := New()
	c.values[AtomicityModeProp] = int32(AtomicityAtomic)
	c.values[Backups] = int32(0)
	c.values[CacheModeProp] = int32(CacheModePartitioned)
	c.values[CopyOnRead] = true
	c.values[EagerTTL] = true
	c.values[StatisticsEnabled] = false
	c.values[DefaultLockTimeout] = int64(0)
	c.values[MaxConcurrentAsyncOperations] = int32(500)
	c.values[MaxQueryIterators] = int32(1024)
	c.values[OnheapCacheEnabled] = false
	c.values[PartitionLossPolicyProp] = int32(Ignore)
	c.values[QueryDetailMetricsSize] = int32(0)
	c.values[QueryParallelism] = int32(1)
	c.values[ReadFromBackup] = true
	c.values[RebalanceBatchSize] = int32(512 * 1024)
	c.values[RebalanceBatchesPrefetchCount] = int64(2)
	c.values[RebalanceDelay] = int64(0)
	c.values[RebalanceModeProp] = int32(RebalanceAsync)
	c.values[RebalanceOrder] = int32(0)
	c.values[RebalanceThrottle] = int64(0)
	c.values[RebalanceTimeout] = int64(10000)
	c.values[SQLEscapeAll] = false
	c.values[SQLIndexInlineMaxSize] = int32(-1)
	c.values[WriteSynchronizationModeProp] = int32(PrimarySync)
	return c
}
