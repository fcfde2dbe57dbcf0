package config

// InputPath 指定输入数据来源的配置（MongoDB、文件系统）
// 功能：定义数据输入路径的配置结构，支持多种数据源
// 说明：支持MongoDB数据库和文件系统两种数据源，支持缓存机制
type InputPath struct {
	DB        string `yaml:"db"`                   // 数据库名
	Col       string `yaml:"col"`                  // 集合名
	Cache     string `yaml:"cache,omitempty"`      // 缓存文件名，为空则采用默认路径{db}.{col}.json
	OnlyCache bool   `yaml:"only_cache,omitempty"` // 只从缓存中获取
	File      string `yaml:"file,omitempty"`       // 文件路径（优先级高于MongoDB）
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// GetCachePath 获取缓存文件路径
// 功能：返回缓存文件的完整路径
// 算法说明：
// 1. 如果指定了缓存路径，直接返回
// 2. 否则使用默认命名规则：{数据库名}.{集合名}.json
func (p InputPath) GetCachePath() string {
	if p.Cache != "" {
		return p.Cache
	}
	return p.DB + "." + p.Col + ".json"
}

// Input 指定模拟器所有输入数据的配置项
// 功能：定义仿真系统的所有输入数据配置
// 说明：包含路网与出行需求两类输入数据的配置
type Input struct {
	URI      string    `yaml:"uri"`      // MongoDB连接字符串
	Map      InputPath `yaml:"map"`      // 路网
	Scenario InputPath `yaml:"scenario"` // 出行需求（人员与行程）
}

// ControlStep 指定模拟器模拟时间范围和间隔的配置项
// 功能：定义仿真时间控制参数
// 说明：控制仿真的时间范围、步长和精度
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔（秒）
}

// ParkingControl 停车子系统控制配置
// 功能：定义初始占用率与找车位搜索的策略边界
type ParkingControl struct {
	SeedOccupancy     float64 `yaml:"seed_occupancy,omitempty"`      // 初始车位占用比例[0,1]
	SearchMaxHops     int     `yaml:"search_max_hops,omitempty"`     // 找车位广度搜索的最大道路跳数
	SearchMaxDistance float64 `yaml:"search_max_distance,omitempty"` // 找车位搜索的最大距离（米）
}

// Control 模拟器控制配置
// 功能：定义仿真系统的核心控制参数
// 说明：包含时间控制、随机种子、信控策略、停车与堵死判定等核心配置
type Control struct {
	Step             ControlStep    `yaml:"step"`
	Seed             uint64         `yaml:"seed"`                         // 全局随机种子
	PreferFixedLight bool           `yaml:"prefer_fixed_light,omitempty"` // 优先使用固定相位信控，否则使用最大压力信控
	Parking          ParkingControl `yaml:"parking,omitempty"`
	GridlockTimeout  float64        `yaml:"gridlock_timeout,omitempty"` // 行程无进展超过该秒数则取消，0为禁用
}

// SavestateOutput 存档输出配置
type SavestateOutput struct {
	Dir   string `yaml:"dir,omitempty"`   // 存档目录
	Every int32  `yaml:"every,omitempty"` // 每多少步写一次存档，0为禁用
}

// Output 模拟器输出配置
// 功能：定义事件流与存档的落盘位置
type Output struct {
	Events    string          `yaml:"events,omitempty"` // 事件流JSONL文件路径，空则不落盘
	Savestate SavestateOutput `yaml:"savestate,omitempty"`
}

// Config YAML配置文件的根结构
// 功能：定义整个仿真系统的配置结构
// 说明：包含输入、控制、输出等所有配置项
type Config struct {
	Input   Input   `yaml:"input"`            // 输入
	Control Control `yaml:"control"`          // 模拟过程控制
	Output  Output  `yaml:"output,omitempty"` // 输出
}
