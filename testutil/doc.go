/*
Package testutil 提供 EdgeFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel / Drain
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: capability.Provider 的模拟实现（延迟、错误、panic 注入）
    以及 ConcurrencyProbe 并发探针
  - testutil/fixtures: 预置模型描述与 PCM 音频帧生成器

子包只依赖 types，核心包的内部测试可以直接导入而不会产生循环依赖。
*/
package testutil
