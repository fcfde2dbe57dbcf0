package config

// 停车搜索策略的默认边界
const (
	defaultSearchMaxHops     = 20
	defaultSearchMaxDistance = 2000.0
)

// RuntimeConfig 运行时配置
// 功能：存储仿真运行时的配置信息
// 说明：将YAML配置转换为运行时可用的配置对象，补全默认值并完成校验
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 全局控制配置
}

// NewRuntimeConfig 根据配置初始化运行时配置
// 功能：创建运行时配置对象，进行配置验证与默认值填充
// 参数：config-原始配置对象
// 返回：初始化的运行时配置指针
// 算法说明：
// 1. 校验步长与总步数为正、占用比例在[0,1]内，非法配置直接终止
// 2. 停车搜索边界未配置时填充默认值
func NewRuntimeConfig(config Config) *RuntimeConfig {
	rc := &RuntimeConfig{}

	c := config.Control
	if c.Step.Interval <= 0 {
		log.Fatalf("config: control.step.interval must be positive, got %v", c.Step.Interval)
	}
	if c.Step.Total <= 0 {
		log.Fatalf("config: control.step.total must be positive, got %v", c.Step.Total)
	}
	if c.Parking.SeedOccupancy < 0 || c.Parking.SeedOccupancy > 1 {
		log.Fatalf("config: control.parking.seed_occupancy must be in [0, 1], got %v", c.Parking.SeedOccupancy)
	}
	if c.GridlockTimeout < 0 {
		log.Fatalf("config: control.gridlock_timeout must be non-negative, got %v", c.GridlockTimeout)
	}
	if c.Parking.SearchMaxHops == 0 {
		c.Parking.SearchMaxHops = defaultSearchMaxHops
	}
	if c.Parking.SearchMaxDistance == 0 {
		c.Parking.SearchMaxDistance = defaultSearchMaxDistance
	}

	config.Control = c
	rc.All = config
	rc.C = c

	return rc
}
