// 随机数引擎，包装了golang.org/x/exp/rand，提供了一些常用的随机数生成方法
package randengine

import (
	"flag"
	"log"
	"sync"

	"golang.org/x/exp/rand"
)

var (
	seedOffset = flag.Uint64("rand.seed_offset", 0, "seed offset") // 种子偏移量，用于调整随机数生成
)

// Engine 随机数引擎
// 功能：提供高质量的随机数生成功能，支持多种分布和线程安全操作
// 说明：基于golang.org/x/exp/rand库，提供更丰富的随机数生成接口；
// 保留对底层PCG源的引用以支持状态的序列化与恢复（存档回放）
type Engine struct {
	*rand.Rand                 // 底层随机数生成器
	src        *rand.PCGSource // 底层随机数源，用于状态存取
	mtx        sync.Mutex      // 互斥锁，用于线程安全操作
}

// New 创建随机数引擎
// 功能：初始化一个新的随机数引擎实例
// 参数：seed-随机数种子
// 返回：随机数引擎指针
// 算法说明：
// 1. 创建PCG随机数源并用种子+偏移量初始化
// 2. 包装为rand.Rand并保留源引用
// 说明：种子偏移量允许在不修改代码的情况下调整随机数序列
func New(seed uint64) *Engine {
	src := &rand.PCGSource{}
	src.Seed(seed + *seedOffset)
	return &Engine{Rand: rand.New(src), src: src}
}

// MarshalState 序列化随机数源状态
// 功能：导出当前PCG内部状态，用于仿真存档
// 返回：状态字节串
func (e *Engine) MarshalState() ([]byte, error) {
	return e.src.MarshalBinary()
}

// UnmarshalState 恢复随机数源状态
// 功能：从存档字节串恢复PCG内部状态，使后续随机数序列与存档时刻完全一致
// 参数：data-MarshalState导出的字节串
func (e *Engine) UnmarshalState(data []byte) error {
	return e.src.UnmarshalBinary(data)
}

// Float64Range 在[min, max)范围内生成随机浮点数（非线程安全）
// 参数：min-下界，max-上界
func (e *Engine) Float64Range(min, max float64) float64 {
	return min + (max-min)*e.Float64()
}

// DiscreteDistribution 按给定概率分布生成随机数（非线程安全）
// 功能：根据权重数组生成离散分布的随机数
// 参数：weight-权重数组，每个元素表示对应索引的概率权重
// 返回：随机生成的索引值（0到len(weight)-1）
// 算法说明：
// 1. 计算总权重：遍历权重数组计算总和
// 2. 生成随机数：在[0, 总权重)范围内生成随机数
// 3. 累积概率：遍历权重数组，累积概率直到超过随机数
// 4. 返回索引：返回第一个累积概率超过随机数的索引
// 5. 错误处理：如果算法异常则panic
// 说明：使用累积分布函数的方法实现离散概率分布
func (e *Engine) DiscreteDistribution(weight []float64) int32 {
	random := .0
	for _, w := range weight {
		random += w
	}
	random *= e.Float64()
	sum := 0.
	for i, w := range weight {
		sum += w
		if sum > random {
			return int32(i)
		}
	}
	log.Panicf("randengine: DiscreteDistribution: sum: %f random: %f", sum, random)
	return -1
}

// PTrue 以指定概率返回true（非线程安全）
// 功能：根据给定概率返回布尔值
// 参数：p-返回true的概率（0.0到1.0之间）
// 返回：true或false
// 说明：实现伯努利分布，用于模拟概率事件
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}

// PTrueSafe 以指定概率返回true（线程安全）
// 功能：根据给定概率返回布尔值，支持多线程安全访问
// 参数：p-返回true的概率（0.0到1.0之间）
// 返回：true或false
func (e *Engine) PTrueSafe(p float64) bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Float64() < p
}

// IntnSafe 随机生成整数（线程安全）
// 功能：在指定范围内生成随机整数，支持多线程安全访问
// 参数：n-范围上限（不包含）
// 返回：[0, n)范围内的随机整数
func (e *Engine) IntnSafe(n int) int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Intn(n)
}

// Float64Safe 随机生成浮点数（线程安全）
// 功能：生成[0.0, 1.0)范围内的随机浮点数，支持多线程安全访问
// 返回：[0.0, 1.0)范围内的随机浮点数
func (e *Engine) Float64Safe() float64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Float64()
}
