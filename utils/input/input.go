package input

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/tsinghua-fib-lab/microsim-oss/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Input 输入数据
// 功能：存储仿真所需的所有输入数据
// 说明：包含地图与场景两部分，支持从文件、缓存或数据库加载
type Input struct {
	Map      *MapData
	Scenario *Scenario
}

// Init 下载数据
// 功能：根据配置初始化并加载所有输入数据
// 参数：cfg-配置对象，cacheDir-缓存目录
// 返回：加载完成的输入数据指针
// 算法说明：
// 1. 缓存检查：验证缓存目录的有效性
// 2. 数据库连接：如果配置了MongoDB则建立连接
// 3. 地图数据加载与校验：结构性错误直接panic
// 4. 场景数据加载与筛选：
//   - 人员ID必须为正且不重复，重复则panic
//   - 位置与出行模式不匹配的人员被跳过并记录错误日志
//
// 说明：这是数据加载的主入口，确保仿真所需的所有数据都正确加载
func Init(cfg config.Config, cacheDir string) (res *Input) {
	useCache := preCheckCache(cacheDir)
	if !useCache {
		cacheDir = ""
	}

	var client *mongo.Client
	if cfg.Input.URI != "" {
		client = mongoutil.NewClient(cfg.Input.URI)
		defer client.Disconnect(context.Background())
	}

	res = &Input{}
	res.Map = mustLoad[MapData](client, cfg.Input.Map, cacheDir)
	checkMapValid(res.Map)
	log.Infof(
		"loaded map `%s`: %d lanes, %d roads, %d junctions, %d lots, %d transit routes",
		res.Map.Header.Name, len(res.Map.Lanes), len(res.Map.Roads),
		len(res.Map.Junctions), len(res.Map.Lots), len(res.Map.TransitRoutes),
	)

	res.Scenario = mustLoad[Scenario](client, cfg.Input.Scenario, cacheDir)
	ids := buildMapIDs(res.Map)
	personIDs := make(map[int32]struct{})
	valid := make([]*PersonData, 0, len(res.Scenario.Persons))
	for _, p := range res.Scenario.Persons {
		if p.ID <= 0 {
			log.Panicf("person id %d is not positive, please check data", p.ID)
		}
		if _, ok := personIDs[p.ID]; ok {
			log.Panicf("persons have duplicated ids %d, please check data", p.ID)
		}
		personIDs[p.ID] = struct{}{}
		if err := checkPersonValid(p, ids); err != nil {
			log.Errorf("ignore person %d: %v", p.ID, err)
			continue
		}
		valid = append(valid, p)
	}
	if len(res.Scenario.Persons) > 0 && len(valid) == 0 {
		log.Error("no valid persons to simulate, please check data")
	}
	res.Scenario.Persons = valid
	log.Infof("loaded scenario: %d persons", len(valid))
	return
}

// cacheName 输入路径对应的缓存文件名
func cacheName(path config.InputPath) string {
	if path.Cache != "" {
		return path.Cache
	}
	return fmt.Sprintf("%s.%s.json", path.DB, path.Col)
}

// mustLoad 必须加载数据（泛型函数）
// 功能：从文件、缓存或MongoDB中加载数据
// 参数：client-MongoDB客户端，path-输入路径配置，cacheDir-缓存目录
// 返回：加载的数据对象
// 算法说明：
// 1. 文件优先：配置了file则直接读取JSON文件
// 2. 缓存检查：缓存文件存在则从缓存读取
// 3. 数据库加载：取集合中的唯一文档并按BSON解码
// 4. 缓存写回：加载成功且启用缓存时写出JSON缓存
// 说明：提供统一的数据加载接口，加载失败直接panic
func mustLoad[T any](client *mongo.Client, path config.InputPath, cacheDir string) *T {
	if path.File != "" {
		log.Infof("start loading from file %s", path.File)
		return mustLoadJSONFile[T](path.File)
	}
	cacheFile := ""
	if cacheDir != "" {
		cacheFile = filepath.Join(cacheDir, cacheName(path))
		if _, err := os.Stat(cacheFile); err == nil {
			log.Infof("start loading from cache %s", cacheFile)
			return mustLoadJSONFile[T](cacheFile)
		}
	}
	if path.OnlyCache {
		log.Panicf("cache-only mode but no cache for %s.%s", path.DB, path.Col)
	}
	if client == nil {
		log.Panicf("no mongo uri but %s.%s is not a file input", path.DB, path.Col)
	}
	log.Infof("start fetching from %s.%s", path.DB, path.Col)
	coll := client.Database(path.DB).Collection(path.Col)
	var res T
	if err := coll.FindOne(context.Background(), bson.D{}).Decode(&res); err != nil {
		log.Panicf("failed to fetch from %s.%s: %v", path.DB, path.Col, err)
	}
	log.Infof("finish fetching from %s.%s", path.DB, path.Col)
	if cacheFile != "" {
		if data, err := json.Marshal(&res); err != nil {
			log.Errorf("failed to marshal cache for %s.%s: %v", path.DB, path.Col, err)
		} else if err := os.WriteFile(cacheFile, data, 0o644); err != nil {
			log.Errorf("failed to write cache %s: %v", cacheFile, err)
		}
	}
	return &res
}

// mustLoadJSONFile 从JSON文件加载数据，失败直接panic
func mustLoadJSONFile[T any](file string) *T {
	data, err := os.ReadFile(file)
	if err != nil {
		log.Panicf("failed to read %s: %v", file, err)
	}
	var res T
	if err := json.Unmarshal(data, &res); err != nil {
		log.Panicf("failed to parse %s: %v", file, err)
	}
	return &res
}
