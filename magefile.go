//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default 默认任务：显示帮助信息
func Default() {
	fmt.Println("queryopt 构建系统")
	fmt.Println("================")
	fmt.Println("可用任务:")
	fmt.Println("  mage build       - 构建 queryopt 二进制文件")
	fmt.Println("  mage test        - 运行所有测试")
	fmt.Println("  mage testRace    - 使用 -race 运行测试")
	fmt.Println("  mage docker:redis - 启动本地 Redis")
	fmt.Println("  mage docker:influx - 启动本地 InfluxDB")
	fmt.Println("  mage docker:down - 停止本地依赖")
	fmt.Println("  mage clean       - 清理构建产物")
	fmt.Println("  mage lint        - 运行代码检查")
	fmt.Println("  mage coverage    - 生成测试覆盖率报告")
}

// Build 构建二进制文件
func Build() error {
	mg.Deps(Clean)

	output := filepath.Join("./dist", "queryopt")
	if runtime.GOOS == "windows" {
		output += ".exe"
	}

	fmt.Println("📦 构建 queryopt...")
	cmd := exec.Command("go", "build", "-o", output, "./cmd/queryopt")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("构建失败: %v\n输出: %s", err, string(out))
	}

	if info, err := os.Stat(output); err == nil {
		fmt.Printf("   ✅ queryopt: %d MB\n", info.Size()/1024/1024)
	}
	return nil
}

// Test 运行所有测试
func Test() error {
	fmt.Println("🧪 运行测试...")
	return sh.RunV("go", "test", "./...", "-timeout=5m")
}

// TestRace 使用竞态检测运行测试，去重与后台刷新都依赖并发正确性
func TestRace() error {
	fmt.Println("🧪 运行竞态检测...")
	return sh.RunV("go", "test", "-race", "./pkg/...", "-timeout=10m")
}

type Docker mg.Namespace

// Redis 启动本地 Redis，供报表发布使用
func (Docker) Redis() error {
	return sh.RunV("docker", "run", "-d", "--rm", "--name", "queryopt-redis", "-p", "6379:6379", "redis:7-alpine")
}

// Influx 启动本地 InfluxDB
func (Docker) Influx() error {
	return sh.RunV("docker", "run", "-d", "--rm", "--name", "queryopt-influx", "-p", "8086:8086",
		"-e", "DOCKER_INFLUXDB_INIT_MODE=setup",
		"-e", "DOCKER_INFLUXDB_INIT_USERNAME=queryopt",
		"-e", "DOCKER_INFLUXDB_INIT_PASSWORD=queryopt-dev",
		"-e", "DOCKER_INFLUXDB_INIT_ORG=queryopt",
		"-e", "DOCKER_INFLUXDB_INIT_BUCKET=query_cache",
		"influxdb:2.7")
}

// Down 停止本地依赖
func (Docker) Down() error {
	for _, name := range []string{"queryopt-redis", "queryopt-influx"} {
		if err := sh.Run("docker", "stop", name); err != nil {
			fmt.Printf("警告: 停止 %s 失败: %v\n", name, err)
		}
	}
	return nil
}

// Clean 清理构建产物
func Clean() error {
	fmt.Println("🧹 清理构建产物...")

	if err := os.MkdirAll("./dist", 0755); err != nil {
		return fmt.Errorf("创建 dist 目录失败: %v", err)
	}

	files, err := filepath.Glob("./dist/*")
	if err != nil {
		return fmt.Errorf("查找文件失败: %v", err)
	}
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			fmt.Printf("警告: 无法删除文件 %s: %v\n", file, err)
		}
	}

	if err := os.RemoveAll("./coverage.out"); err != nil && !os.IsNotExist(err) {
		fmt.Printf("警告: 清理覆盖率文件失败: %v\n", err)
	}
	return nil
}

// Lint 检查代码格式与 go vet
func Lint() error {
	fmt.Println("🔍 运行代码检查...")

	out, err := exec.Command("gofmt", "-l", ".").CombinedOutput()
	if err != nil {
		return fmt.Errorf("gofmt 检查失败: %v", err)
	}
	if len(out) > 0 {
		return fmt.Errorf("以下文件需要 gofmt:\n%s", string(out))
	}
	return sh.RunV("go", "vet", "./...")
}

// Coverage 生成测试覆盖率报告
func Coverage() error {
	fmt.Println("📈 生成测试覆盖率报告...")

	if err := sh.Run("go", "test", "./pkg/...", "-coverprofile=coverage.out", "-covermode=atomic"); err != nil {
		return fmt.Errorf("生成覆盖率失败: %v", err)
	}
	return sh.RunV("go", "tool", "cover", "-func=coverage.out")
}
