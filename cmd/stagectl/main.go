// stagectl 阶段服务运维命令行：迁移、查看阶段、导出与签发开发 Token。
package main

func main() {
	Execute()
}
